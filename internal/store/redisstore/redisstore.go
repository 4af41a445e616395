package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

const keyPrefix = "chat-relay:busy:"

type Store struct {
	client redis.UniversalClient
	rs     *redsync.Redsync
}

// New connects to addr and verifies the connection.
func New(ctx context.Context, addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewWithClient(client), nil
}

func NewWithClient(client redis.UniversalClient) *Store {
	return &Store{client: client, rs: redsync.New(goredis.NewPool(client))}
}

func (s *Store) Close() error {
	return s.client.Close()
}

func busyKey(userID int64) string {
	return keyPrefix + strconv.FormatInt(userID, 10)
}

// IsBusy reports whether any process holds the user's admission lock.
func (s *Store) IsBusy(ctx context.Context, userID int64) (bool, error) {
	n, err := s.client.Exists(ctx, busyKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Admission extends per-process admission across processes sharing one
// redis. The lock expires after ttl so a crashed holder cannot block a user
// forever.
type Admission struct {
	store *Store
	local chat.Admission
	ttl   time.Duration
	log   zerolog.Logger
}

func NewAdmission(store *Store, local chat.Admission, ttl time.Duration, log zerolog.Logger) *Admission {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Admission{store: store, local: local, ttl: ttl, log: log}
}

func (a *Admission) Acquire(ctx context.Context, userID int64) (func(), error) {
	releaseLocal, err := a.local.Acquire(ctx, userID)
	if err != nil {
		return nil, err
	}

	mutex := a.store.rs.NewMutex(busyKey(userID),
		redsync.WithExpiry(a.ttl),
		redsync.WithTries(1),
	)
	if err := mutex.TryLockContext(ctx); err != nil {
		releaseLocal()
		if isTaken(err) {
			return nil, chat.ErrBusy
		}
		return nil, fmt.Errorf("redis lock: %w", err)
	}

	return func() {
		defer releaseLocal()
		uctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := mutex.UnlockContext(uctx); err != nil {
			a.log.Warn().Err(err).Int64("user_id", userID).Msg("failed to release redis admission lock")
		}
	}, nil
}

func isTaken(err error) bool {
	var taken *redsync.ErrTaken
	if errors.As(err, &taken) {
		return true
	}
	return errors.Is(err, redsync.ErrFailed)
}
