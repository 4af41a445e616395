package chat

import (
	"strconv"
	"time"
)

// User is supplied by the transport. Name is used for diagnostics only.
type User struct {
	ID   int64
	Name string
}

type Photo struct {
	// FileRef is the transport's handle for fetching the image bytes.
	FileRef string
	Caption string
}

// Event is one incoming user message: either Text or Photo is set.
type Event struct {
	User   User
	ChatID int64
	Text   string
	Photo  *Photo
}

func (e Event) IsPhoto() bool { return e.Photo != nil }

func (e Event) kind() string {
	if e.IsPhoto() {
		return "photo"
	}
	return "text"
}

// Envelope is the per-job request: the event plus a handle on the live
// conversation it mutates.
type Envelope struct {
	ID         string
	Event      Event
	Conv       *Conversation
	AcceptedAt time.Time

	// Checkpoint is set once the user turn has been appended; failures
	// before that point leave nothing to roll back.
	Checkpoint *Checkpoint
}

func (e *Envelope) userKey() string {
	return strconv.FormatInt(e.Event.User.ID, 10)
}
