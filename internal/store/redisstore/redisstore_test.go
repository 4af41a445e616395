package redisstore

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

func TestBusyKey(t *testing.T) {
	assert.Equal(t, "chat-relay:busy:42", busyKey(42))
}

func TestIsTaken(t *testing.T) {
	assert.True(t, isTaken(&redsync.ErrTaken{Nodes: []int{0}}))
	assert.True(t, isTaken(fmt.Errorf("wrapped: %w", redsync.ErrFailed)))
	assert.False(t, isTaken(errors.New("connection refused")))
}

func TestAdmission_RedisDownReleasesLocalSlot(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 200 * time.Millisecond,
	})
	t.Cleanup(func() { _ = client.Close() })

	local := chat.NewStore(nil, zerolog.Nop())
	a := NewAdmission(NewWithClient(client), chat.NewLocalAdmission(local), time.Minute, zerolog.Nop())

	_, err := a.Acquire(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, chat.ErrBusy))
	assert.False(t, local.IsBusy(1))
}

func TestAdmission_LocalBusyShortCircuits(t *testing.T) {
	local := chat.NewStore(nil, zerolog.Nop())
	require.True(t, local.TryAcquire(1))

	// the redis client is never touched
	a := NewAdmission(&Store{}, chat.NewLocalAdmission(local), time.Minute, zerolog.Nop())
	_, err := a.Acquire(context.Background(), 1)
	assert.ErrorIs(t, err, chat.ErrBusy)
}
