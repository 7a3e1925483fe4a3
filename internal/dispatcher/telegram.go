package dispatcher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"
)

// TelegramSender delivers reminders as Telegram messages. The registration's
// contact address is interpreted as a chat ID.
type TelegramSender struct {
	bot *tele.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	bot, err := tele.NewBot(tele.Settings{
		Token:   token,
		Offline: false,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramSender{bot: bot}, nil
}

// Send delivers one message. telebot has no context support, so the send
// runs in a goroutine and the timeout is enforced externally.
func (s *TelegramSender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	chatID, err := strconv.ParseInt(req.To, 10, 64)
	if err != nil {
		return SendResult{Error: fmt.Errorf("telegram: %q is not a chat id: %w", req.To, err), Duration: time.Since(start)}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	text := req.Subject + "\n\n" + req.Body

	done := make(chan error, 1)
	go func() {
		_, err := s.bot.Send(&tele.Chat{ID: chatID}, text)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return SendResult{Error: fmt.Errorf("telegram send: %w", ctx.Err()), Duration: time.Since(start)}
	case err := <-done:
		if err != nil {
			return SendResult{Error: fmt.Errorf("telegram send: %w", err), Duration: time.Since(start)}
		}
		return SendResult{Duration: time.Since(start)}
	}
}
