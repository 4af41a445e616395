package chat

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/ai"
)

// Turn is one role-tagged message unit of a conversation.
type Turn = ai.Message

// Persister mirrors conversation history to durable storage.
type Persister interface {
	LoadTurns(ctx context.Context, userID int64) ([]Turn, error)
	// AppendTurn stores turn at position seq (0-based).
	AppendTurn(ctx context.Context, userID int64, seq int, turn Turn) error
	// TruncateTurns drops every turn at position keep or later.
	TruncateTurns(ctx context.Context, userID int64, keep int) error
}

// Checkpoint identifies a history state: its length within one epoch.
// Clear starts a new epoch, so a checkpoint from before a clear never
// matches again.
type Checkpoint struct {
	Epoch uint64
	Len   int
}

// Conversation is the history and busy flag of one user.
type Conversation struct {
	UserID int64

	mu      sync.Mutex
	history []Turn
	busy    bool
	epoch   uint64

	persist  Persister
	loadOnce sync.Once
	log      zerolog.Logger

	// stale is set when persisted rows may no longer match history.
	stale bool
}

func newConversation(userID int64, p Persister, log zerolog.Logger) *Conversation {
	return &Conversation{UserID: userID, persist: p, log: log}
}

// load restores persisted history once. Errors leave the history empty.
func (c *Conversation) load(ctx context.Context) error {
	var err error
	c.loadOnce.Do(func() {
		if c.persist == nil {
			return
		}
		var turns []Turn
		turns, err = c.persist.LoadTurns(ctx, c.UserID)
		if err != nil {
			return
		}
		if len(turns) > 0 && turns[0].Role != ai.RoleSystem {
			err = fmt.Errorf("persisted history for user %d does not start with a system turn", c.UserID)
			return
		}
		c.mu.Lock()
		c.history = turns
		c.mu.Unlock()
	})
	return err
}

// Turns returns a copy of the history.
func (c *Conversation) Turns() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Turn, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history)
}

func (c *Conversation) Checkpoint() Checkpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Checkpoint{Epoch: c.epoch, Len: len(c.history)}
}

func (c *Conversation) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *Conversation) setBusy(v bool) {
	c.mu.Lock()
	c.busy = v
	c.mu.Unlock()
}

func (c *Conversation) tryAcquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return false
	}
	c.busy = true
	return true
}

// Clear empties the history and starts a new epoch. Busy is untouched.
func (c *Conversation) Clear(ctx context.Context) error {
	return c.Update(ctx, func(tx *Tx) error {
		tx.Clear()
		return nil
	})
}

// Update runs fn with exclusive access to the history. Changes made through
// tx are applied only if fn returns nil, and fn's error is returned as is.
// The in-memory history is the source of truth: persistence failures are
// logged, not returned.
func (c *Conversation) Update(ctx context.Context, fn func(tx *Tx) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := &Tx{
		epoch:   c.epoch,
		history: append([]Turn(nil), c.history...),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if len(tx.ops) == 0 {
		return nil
	}

	c.history = tx.history
	c.epoch = tx.epoch
	if c.persist == nil {
		return nil
	}

	ops := tx.ops
	if c.stale {
		ops = c.resyncOps()
	}
	if err := c.apply(ctx, ops); err != nil {
		c.stale = true
		c.log.Warn().Err(err).Int64("user_id", c.UserID).Msg("failed to persist conversation history")
		return nil
	}
	c.stale = false
	return nil
}

// resyncOps rewrites the persisted history from scratch.
func (c *Conversation) resyncOps() []txOp {
	ops := make([]txOp, 0, len(c.history)+1)
	ops = append(ops, txOp{truncate: true, seq: 0})
	for i, t := range c.history {
		ops = append(ops, txOp{seq: i, turn: t})
	}
	return ops
}

func (c *Conversation) apply(ctx context.Context, ops []txOp) error {
	for _, op := range ops {
		var err error
		if op.truncate {
			err = c.persist.TruncateTurns(ctx, c.UserID, op.seq)
		} else {
			err = c.persist.AppendTurn(ctx, c.UserID, op.seq, op.turn)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type txOp struct {
	truncate bool
	seq      int
	turn     Turn
}

// Tx is a pending change to one conversation's history.
type Tx struct {
	epoch   uint64
	history []Turn
	ops     []txOp
}

func (tx *Tx) Len() int { return len(tx.history) }

func (tx *Tx) Epoch() uint64 { return tx.epoch }

func (tx *Tx) Checkpoint() Checkpoint {
	return Checkpoint{Epoch: tx.epoch, Len: len(tx.history)}
}

func (tx *Tx) Last() (Turn, bool) {
	if len(tx.history) == 0 {
		return Turn{}, false
	}
	return tx.history[len(tx.history)-1], true
}

func (tx *Tx) Append(t Turn) {
	tx.ops = append(tx.ops, txOp{seq: len(tx.history), turn: t})
	tx.history = append(tx.history, t)
}

// Truncate keeps the first n turns.
func (tx *Tx) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(tx.history) {
		return
	}
	tx.ops = append(tx.ops, txOp{truncate: true, seq: n})
	tx.history = tx.history[:n]
}

func (tx *Tx) Clear() {
	tx.ops = append(tx.ops, txOp{truncate: true, seq: 0})
	tx.history = nil
	tx.epoch++
}

// Matches reports whether cp still describes a prefix of this history.
func (tx *Tx) Matches(cp Checkpoint) bool {
	return tx.epoch == cp.Epoch && len(tx.history) >= cp.Len
}
