package telegram

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/suPer8Hu/chat-relay/internal/chat"
)

// API is the subset of *tgbotapi.BotAPI the relay uses.
type API interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Handler receives transport-neutral events.
type Handler interface {
	Start(ctx context.Context, ev chat.Event) error
	Clean(ctx context.Context, ev chat.Event) error
	HandleMessage(ctx context.Context, ev chat.Event) error
}

type Bot struct {
	api         API
	handler     Handler
	allowed     map[int64]struct{}
	pollTimeout int
	log         zerolog.Logger
}

// NewBot creates a long-polling bot. An empty allowed list admits everyone.
func NewBot(api API, handler Handler, allowed []int64, pollTimeout int, log zerolog.Logger) *Bot {
	b := &Bot{api: api, handler: handler, pollTimeout: pollTimeout, log: log}
	if len(allowed) > 0 {
		b.allowed = make(map[int64]struct{}, len(allowed))
		for _, id := range allowed {
			b.allowed[id] = struct{}{}
		}
	}
	return b
}

// Run polls for updates until ctx is done.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.pollTimeout
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	b.log.Info().Msg("telegram polling started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case upd, ok := <-updates:
			if !ok {
				return errors.New("telegram update channel closed")
			}
			b.handleUpdate(ctx, upd)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, upd tgbotapi.Update) {
	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	if !b.isAllowed(msg.From.ID) {
		b.log.Warn().Int64("user_id", msg.From.ID).Str("username", msg.From.UserName).Msg("message from user outside allow list ignored")
		return
	}

	ev, ok := toEvent(msg)
	if !ok {
		return
	}

	var err error
	if msg.IsCommand() {
		switch msg.Command() {
		case "start":
			err = b.handler.Start(ctx, ev)
		case "clean":
			err = b.handler.Clean(ctx, ev)
		default:
			b.log.Debug().Str("command", msg.Command()).Msg("unknown command ignored")
			return
		}
	} else {
		err = b.handler.HandleMessage(ctx, ev)
	}

	if err != nil && !errors.Is(err, chat.ErrAdmissionRejected) {
		b.log.Error().Err(err).Int64("user_id", ev.User.ID).Msg("failed to handle update")
	}
}

func (b *Bot) isAllowed(userID int64) bool {
	if b.allowed == nil {
		return true
	}
	_, ok := b.allowed[userID]
	return ok
}

// toEvent maps a telegram message. Photos use the largest size offered.
func toEvent(msg *tgbotapi.Message) (chat.Event, bool) {
	ev := chat.Event{
		User:   chat.User{ID: msg.From.ID, Name: displayName(msg.From)},
		ChatID: msg.Chat.ID,
	}
	if len(msg.Photo) > 0 {
		largest := msg.Photo[0]
		for _, p := range msg.Photo[1:] {
			if p.Width*p.Height > largest.Width*largest.Height {
				largest = p
			}
		}
		ev.Photo = &chat.Photo{FileRef: largest.FileID, Caption: msg.Caption}
		return ev, true
	}
	if msg.Text == "" {
		return chat.Event{}, false
	}
	ev.Text = msg.Text
	return ev, true
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}
