package chat

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Store owns every user's Conversation. Lookups take a shared lock on the
// map only; per-user state is guarded by the conversation itself, so users
// never contend with each other beyond map access.
type Store struct {
	mu      sync.RWMutex
	convs   map[int64]*Conversation
	persist Persister
	log     zerolog.Logger
}

// NewStore creates an empty store. p may be nil for a memory-only store.
func NewStore(p Persister, log zerolog.Logger) *Store {
	return &Store{
		convs:   make(map[int64]*Conversation),
		persist: p,
		log:     log,
	}
}

func (s *Store) conv(userID int64) *Conversation {
	s.mu.RLock()
	c, ok := s.convs[userID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[userID]; ok {
		return c
	}
	c = newConversation(userID, s.persist, s.log)
	s.convs[userID] = c
	return c
}

// GetOrCreate returns the user's conversation, creating it and restoring
// persisted history on first use. It never fails: a load error is logged
// and the conversation starts empty.
func (s *Store) GetOrCreate(ctx context.Context, userID int64) *Conversation {
	c := s.conv(userID)
	if err := c.load(ctx); err != nil {
		s.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to restore conversation history")
	}
	return c
}

// Get returns the conversation only if it already exists.
func (s *Store) Get(userID int64) (*Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[userID]
	return c, ok
}

func (s *Store) IsBusy(userID int64) bool {
	c, ok := s.Get(userID)
	return ok && c.IsBusy()
}

func (s *Store) SetBusy(userID int64, busy bool) {
	s.conv(userID).setBusy(busy)
}

// TryAcquire atomically marks the user busy. It returns false if the user
// already was.
func (s *Store) TryAcquire(userID int64) bool {
	return s.conv(userID).tryAcquire()
}

// Clear empties the user's history without touching the busy flag.
func (s *Store) Clear(ctx context.Context, userID int64) error {
	return s.GetOrCreate(ctx, userID).Clear(ctx)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// Close drops all in-memory conversations. Persisted history is kept.
func (s *Store) Close() {
	s.mu.Lock()
	s.convs = make(map[int64]*Conversation)
	s.mu.Unlock()
}
