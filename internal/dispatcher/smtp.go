package dispatcher

import (
	"context"
	"fmt"
	"net/smtp"
	"time"
)

// SMTPConfig configures the mail sender.
type SMTPConfig struct {
	Host     string
	Port     string
	From     string
	Username string
	Password string
}

// SMTPSender delivers reminders as plain-text mail over SMTP with STARTTLS.
type SMTPSender struct {
	config SMTPConfig
	send   func(addr string, auth smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(config SMTPConfig) *SMTPSender {
	return &SMTPSender{config: config, send: smtp.SendMail}
}

// Send delivers one message. net/smtp has no context support, so the send
// runs in a goroutine and the timeout is enforced by selecting against it; a
// timed-out delivery is reported as a per-recipient failure.
func (s *SMTPSender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s",
		s.config.From, req.To, req.Subject, req.Body))

	addr := s.config.Host + ":" + s.config.Port
	var auth smtp.Auth
	if s.config.Username != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	done := make(chan error, 1)
	go func() {
		done <- s.send(addr, auth, s.config.From, []string{req.To}, msg)
	}()

	select {
	case <-ctx.Done():
		return SendResult{Error: fmt.Errorf("smtp send: %w", ctx.Err()), Duration: time.Since(start)}
	case err := <-done:
		if err != nil {
			return SendResult{Error: fmt.Errorf("smtp send: %w", err), Duration: time.Since(start)}
		}
		return SendResult{Duration: time.Since(start)}
	}
}
