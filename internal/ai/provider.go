package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Content is either TextContent or MultiPartContent.
type Content interface {
	// Summary renders the content as plain text for logs and listings.
	Summary() string
	isContent()
}

type TextContent struct {
	Text string
}

func (TextContent) isContent() {}

func (c TextContent) Summary() string { return c.Text }

type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image_url"
)

// Part is one element of a multi-part message. ImageURL holds a data URI
// for images so the payload does not depend on the transport.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

type MultiPartContent struct {
	Parts []Part
}

func (MultiPartContent) isContent() {}

func (c MultiPartContent) Summary() string {
	var b strings.Builder
	for _, p := range c.Parts {
		switch p.Type {
		case PartText:
			if p.Text == "" {
				continue
			}
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(p.Text)
		case PartImage:
			if b.Len() > 0 {
				b.WriteByte(' ')
			}
			b.WriteString("[image]")
		}
	}
	return b.String()
}

// Message is one role-tagged turn of a conversation.
type Message struct {
	Role    Role
	Content Content
}

func Text(role Role, text string) Message {
	return Message{Role: role, Content: TextContent{Text: text}}
}

// Request carries the per-call options next to the history.
type Request struct {
	Messages []Message
	// User is an opaque end-user id forwarded to providers that accept one.
	User string
}

type Provider interface {
	Chat(ctx context.Context, req Request) (string, error)
}

// ErrorKind classifies provider failures.
type ErrorKind string

const (
	KindContextLength ErrorKind = "context_length_exceeded"
	KindTransient     ErrorKind = "transient"
	KindTimeout       ErrorKind = "timeout"
	KindUnknown       ErrorKind = "unknown"
)

// Error is returned by providers for failures they can classify.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

var ErrEmptyResponse = errors.New("empty model response")

// KindOf returns the classified kind of err, or KindUnknown.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}
