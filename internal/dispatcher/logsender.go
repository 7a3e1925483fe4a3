package dispatcher

import (
	"context"
	"log"
	"time"
)

// LogSender writes notifications to the process log instead of delivering
// them. Useful for local development and dry runs.
type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

func (s *LogSender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()
	log.Printf("notify: to=%s subject=%q", req.To, req.Subject)
	return SendResult{Duration: time.Since(start)}
}
