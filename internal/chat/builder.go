package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/suPer8Hu/chat-relay/internal/ai"
)

const DefaultSystemPrompt = "You are a helpful assistant"

// AttachmentFetcher downloads the bytes behind a transport file reference.
type AttachmentFetcher interface {
	FetchBytes(ctx context.Context, ref string) ([]byte, error)
}

// HistoryBuilder turns incoming events into user turns.
type HistoryBuilder struct {
	systemPrompt string
	fetcher      AttachmentFetcher
	fetchTimeout time.Duration
}

func NewHistoryBuilder(systemPrompt string, fetcher AttachmentFetcher, fetchTimeout time.Duration) *HistoryBuilder {
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &HistoryBuilder{systemPrompt: systemPrompt, fetcher: fetcher, fetchTimeout: fetchTimeout}
}

func (b *HistoryBuilder) systemTurn() Turn {
	return ai.Text(ai.RoleSystem, b.systemPrompt)
}

// AppendSystemPromptIfEmpty adds the system turn iff the history is empty.
func (b *HistoryBuilder) AppendSystemPromptIfEmpty(ctx context.Context, conv *Conversation) error {
	return conv.Update(ctx, func(tx *Tx) error {
		b.systemPromptIfEmpty(tx)
		return nil
	})
}

func (b *HistoryBuilder) systemPromptIfEmpty(tx *Tx) {
	if tx.Len() == 0 {
		tx.Append(b.systemTurn())
	}
}

// AppendUserTurn builds the user turn for ev and appends it, preceded by the
// system prompt if the history is empty. Both appends happen in one update so
// a concurrent clean can never leave a user turn at the head. The returned
// checkpoint is the state just before the appends.
//
// Attachment failures return a KindAttachment error and append nothing.
func (b *HistoryBuilder) AppendUserTurn(ctx context.Context, conv *Conversation, ev Event) (Checkpoint, error) {
	turn, err := b.userTurn(ctx, ev)
	if err != nil {
		return Checkpoint{}, err
	}

	var cp Checkpoint
	err = conv.Update(ctx, func(tx *Tx) error {
		cp = tx.Checkpoint()
		b.systemPromptIfEmpty(tx)
		tx.Append(turn)
		return nil
	})
	return cp, err
}

func (b *HistoryBuilder) userTurn(ctx context.Context, ev Event) (Turn, error) {
	if !ev.IsPhoto() {
		return ai.Text(ai.RoleUser, ev.Text), nil
	}

	dataURI, err := b.fetchImage(ctx, ev.Photo.FileRef)
	if err != nil {
		return Turn{}, &Error{Kind: KindAttachment, Err: err}
	}
	return Turn{
		Role: ai.RoleUser,
		Content: ai.MultiPartContent{Parts: []ai.Part{
			{Type: ai.PartText, Text: ev.Photo.Caption},
			{Type: ai.PartImage, ImageURL: dataURI},
		}},
	}, nil
}

func (b *HistoryBuilder) fetchImage(ctx context.Context, ref string) (string, error) {
	if b.fetcher == nil {
		return "", errors.New("no attachment fetcher configured")
	}
	if b.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.fetchTimeout)
		defer cancel()
	}
	data, err := b.fetcher.FetchBytes(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("fetch attachment: %w", err)
	}
	if len(data) == 0 {
		return "", errors.New("fetch attachment: empty body")
	}
	return EncodeDataURI(data), nil
}

// EncodeDataURI encodes data as a base64 data URI with its sniffed MIME type.
func EncodeDataURI(data []byte) string {
	mime, _, _ := strings.Cut(mimetype.Detect(data).String(), ";")
	return "data:" + strings.TrimSpace(mime) + ";base64," + base64.StdEncoding.EncodeToString(data)
}
