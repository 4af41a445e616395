package chat

import (
	"context"
	"sync"
)

// Admission grants at most one in-flight job per user. Acquire returns
// ErrBusy when the slot is taken; release must be called exactly once.
type Admission interface {
	Acquire(ctx context.Context, userID int64) (release func(), err error)
}

// LocalAdmission uses the store's busy flags. It serializes users within
// one process.
type LocalAdmission struct {
	store *Store
}

func NewLocalAdmission(store *Store) *LocalAdmission {
	return &LocalAdmission{store: store}
}

func (a *LocalAdmission) Acquire(_ context.Context, userID int64) (func(), error) {
	if !a.store.TryAcquire(userID) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() { a.store.SetBusy(userID, false) })
	}, nil
}
