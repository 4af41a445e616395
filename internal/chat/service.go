package chat

import (
	"context"

	"github.com/rs/zerolog"
)

// Service is the transport-facing entry point: commands and messages.
type Service struct {
	store      *Store
	dispatcher *Dispatcher
	sender     Sender
	log        zerolog.Logger
}

func NewService(store *Store, dispatcher *Dispatcher, sender Sender, log zerolog.Logger) *Service {
	return &Service{store: store, dispatcher: dispatcher, sender: sender, log: log}
}

// Start greets the user.
func (s *Service) Start(ctx context.Context, ev Event) error {
	return s.sender.Send(ctx, ev.ChatID, welcomeText(ev.User.Name))
}

// Clean empties the user's history and confirms it.
func (s *Service) Clean(ctx context.Context, ev Event) error {
	if err := s.store.Clear(ctx, ev.User.ID); err != nil {
		return err
	}
	s.log.Info().Int64("user_id", ev.User.ID).Str("name", ev.User.Name).Msg("history cleaned")
	return s.sender.Send(ctx, ev.ChatID, NoticeCleaned)
}

// HandleMessage dispatches a text or photo message.
func (s *Service) HandleMessage(ctx context.Context, ev Event) error {
	return s.dispatcher.Dispatch(ctx, ev)
}

type TurnView struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type ConversationView struct {
	UserID int64      `json:"user_id"`
	Busy   bool       `json:"busy"`
	Turns  []TurnView `json:"turns"`
}

// Snapshot returns a read-only view of a user's conversation.
func (s *Service) Snapshot(ctx context.Context, userID int64) ConversationView {
	conv := s.store.GetOrCreate(ctx, userID)
	turns := conv.Turns()
	view := ConversationView{
		UserID: userID,
		Busy:   conv.IsBusy(),
		Turns:  make([]TurnView, 0, len(turns)),
	}
	for _, t := range turns {
		view.Turns = append(view.Turns, TurnView{Role: string(t.Role), Text: summary(t)})
	}
	return view
}

// Reset clears a user's history without messaging them.
func (s *Service) Reset(ctx context.Context, userID int64) error {
	return s.store.Clear(ctx, userID)
}

// Wait blocks until all dispatched jobs are done.
func (s *Service) Wait() {
	s.dispatcher.Wait()
}
