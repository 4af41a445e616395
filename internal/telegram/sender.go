package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// MaxMessageLen is telegram's limit per text message, in characters.
const MaxMessageLen = 4096

type Sender struct {
	api API
}

func NewSender(api API) *Sender {
	return &Sender{api: api}
}

// Send delivers text, split into as many messages as the length limit
// requires. Empty text sends nothing.
func (s *Sender) Send(ctx context.Context, chatID int64, text string) error {
	for _, chunk := range splitMessage(text, MaxMessageLen) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.api.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func splitMessage(text string, limit int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := limit
		if len(runes) < n {
			n = len(runes)
		}
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}
