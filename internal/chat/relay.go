package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
)

// Sender delivers text to a chat.
type Sender interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// DiagnosticRecord is emitted after every successful reply.
type DiagnosticRecord struct {
	JobID  string    `json:"job_id"`
	UserID int64     `json:"user_id"`
	Name   string    `json:"name"`
	Turns  []string  `json:"turns"`
	At     time.Time `json:"at"`
}

type DiagnosticsPublisher interface {
	PublishDiagnostic(ctx context.Context, rec DiagnosticRecord) error
}

const (
	diagnosticTurns     = 3
	diagnosticTurnChars = 100
)

// Relay records the outcome of a job in history and tells the user.
type Relay struct {
	sender    Sender
	publisher DiagnosticsPublisher
	log       zerolog.Logger
}

func NewRelay(sender Sender, publisher DiagnosticsPublisher, log zerolog.Logger) *Relay {
	return &Relay{sender: sender, publisher: publisher, log: log}
}

// Deliver appends the assistant turn and sends the reply. If the
// conversation was cleared while the job was in flight the reply is still
// sent but not recorded.
func (r *Relay) Deliver(ctx context.Context, env *Envelope, reply string) {
	err := env.Conv.Update(ctx, func(tx *Tx) error {
		if env.Checkpoint == nil || !tx.Matches(*env.Checkpoint) {
			return errStaleCheckpoint
		}
		tx.Append(ai.Text(ai.RoleAssistant, reply))
		return nil
	})
	if err != nil {
		r.log.Info().Err(err).Str("job_id", env.ID).Int64("user_id", env.Event.User.ID).Msg("reply not recorded")
	}

	r.send(ctx, env.Event.ChatID, reply)

	if err == nil {
		r.diagnose(ctx, env)
	}
}

// Fail repairs history according to the error kind and sends one notice.
func (r *Relay) Fail(ctx context.Context, env *Envelope, cause error) {
	kind := KindOf(cause)
	ev := r.log.Warn()
	if kind == KindUnknown {
		ev = r.log.Error()
	}
	ev.Err(cause).
		Str("job_id", env.ID).
		Int64("user_id", env.Event.User.ID).
		Str("name", env.Event.User.Name).
		Str("error_kind", string(kind)).
		Msg("job failed")

	switch kind {
	case KindAttachment:
		r.send(ctx, env.Event.ChatID, NoticeAttachment)

	case KindContextLengthExceeded:
		if err := env.Conv.Clear(ctx); err != nil {
			r.log.Error().Err(err).Int64("user_id", env.Event.User.ID).Msg("failed to clear history")
		}
		r.send(ctx, env.Event.ChatID, NoticeContextExceeded)

	case KindTimeout:
		r.rollback(ctx, env)
		r.send(ctx, env.Event.ChatID, NoticeTimeout)

	default:
		r.rollback(ctx, env)
		r.send(ctx, env.Event.ChatID, NoticeRetry)
	}
}

// Notify sends text outside of a job, e.g. the busy notice.
func (r *Relay) Notify(ctx context.Context, ev Event, text string) {
	r.send(ctx, ev.ChatID, text)
}

// rollback returns history to the state before the job's user turn.
func (r *Relay) rollback(ctx context.Context, env *Envelope) {
	if env.Checkpoint == nil {
		return
	}
	cp := *env.Checkpoint
	err := env.Conv.Update(ctx, func(tx *Tx) error {
		if !tx.Matches(cp) {
			return errStaleCheckpoint
		}
		tx.Truncate(cp.Len)
		return nil
	})
	if err != nil && !errors.Is(err, errStaleCheckpoint) {
		r.log.Error().Err(err).Int64("user_id", env.Event.User.ID).Msg("failed to roll back history")
	}
}

func (r *Relay) send(ctx context.Context, chatID int64, text string) {
	if r.sender == nil {
		return
	}
	if err := r.sender.Send(ctx, chatID, text); err != nil {
		metrics.NoticeSendFailures.Inc()
		r.log.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send message")
	}
}

func (r *Relay) diagnose(ctx context.Context, env *Envelope) {
	rec := NewDiagnosticRecord(env)
	r.log.Info().
		Int64("user_id", rec.UserID).
		Str("name", rec.Name).
		Strs("history", rec.Turns).
		Msg("conversation updated")

	if r.publisher == nil {
		return
	}
	if err := r.publisher.PublishDiagnostic(ctx, rec); err != nil {
		r.log.Warn().Err(err).Str("job_id", env.ID).Msg("failed to publish diagnostic record")
	}
}

// NewDiagnosticRecord summarizes the last turns of env's conversation as
// "role:content" with content cut to 100 characters.
func NewDiagnosticRecord(env *Envelope) DiagnosticRecord {
	turns := env.Conv.Turns()
	if len(turns) > diagnosticTurns {
		turns = turns[len(turns)-diagnosticTurns:]
	}
	out := make([]string, 0, len(turns))
	for _, t := range turns {
		out = append(out, fmt.Sprintf("%s:%s", t.Role, truncate(summary(t), diagnosticTurnChars)))
	}
	return DiagnosticRecord{
		JobID:  env.ID,
		UserID: env.Event.User.ID,
		Name:   env.Event.User.Name,
		Turns:  out,
		At:     time.Now().UTC(),
	}
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
