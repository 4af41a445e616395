package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/chat-relay/internal/ai"
	"github.com/suPer8Hu/chat-relay/internal/metrics"
)

const DefaultCompletionTimeout = 30 * time.Second

// Gateway makes one bounded completion call per job. It never mutates
// history.
type Gateway struct {
	provider ai.Provider
	timeout  time.Duration
}

func NewGateway(provider ai.Provider, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = DefaultCompletionTimeout
	}
	return &Gateway{provider: provider, timeout: timeout}
}

type completion struct {
	reply string
	err   error
}

// Complete sends the conversation's full history. The bound holds even if
// the provider ignores its context.
func (g *Gateway) Complete(ctx context.Context, conv *Conversation, user string) (string, error) {
	start := time.Now()
	reply, err := g.complete(ctx, conv, user)

	outcome := "ok"
	if err != nil {
		outcome = string(KindOf(err))
	}
	metrics.CompletionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return reply, err
}

func (g *Gateway) complete(ctx context.Context, conv *Conversation, user string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := ai.Request{Messages: conv.Turns(), User: user}
	done := make(chan completion, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- completion{err: fmt.Errorf("provider panic: %v", r)}
			}
		}()
		reply, err := g.provider.Chat(ctx, req)
		done <- completion{reply: reply, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", &Error{Kind: KindTimeout, Err: fmt.Errorf("completion exceeded %s: %w", g.timeout, ctx.Err())}
	case res := <-done:
		if res.err != nil {
			if ctx.Err() != nil {
				return "", &Error{Kind: KindTimeout, Err: res.err}
			}
			return "", classify(res.err)
		}
		if strings.TrimSpace(res.reply) == "" {
			return "", &Error{Kind: KindUnknown, Err: ai.ErrEmptyResponse}
		}
		return res.reply, nil
	}
}

func classify(err error) error {
	var pe *ai.Error
	if !errors.As(err, &pe) {
		if errors.Is(err, context.DeadlineExceeded) {
			return &Error{Kind: KindTimeout, Err: err}
		}
		return &Error{Kind: KindUnknown, Err: err}
	}
	switch pe.Kind {
	case ai.KindContextLength:
		return &Error{Kind: KindContextLengthExceeded, Err: err}
	case ai.KindTransient:
		return &Error{Kind: KindTransient, Err: err}
	case ai.KindTimeout:
		return &Error{Kind: KindTimeout, Err: err}
	default:
		return &Error{Kind: KindUnknown, Err: err}
	}
}
