package dispatcher

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookSender posts rendered reminders to a single receiver endpoint as
// HMAC-signed JSON, for deployments that bridge to their own delivery system.
type WebhookSender struct {
	client *http.Client
	url    string
	secret string
}

type webhookPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func NewWebhookSender(url, secret string) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{},
		url:    url,
		secret: secret,
	}
}

// Send posts the payload with an HMAC signature.
// Headers: X-Remindd-Attempt-ID, X-Remindd-Signature
func (s *WebhookSender) Send(ctx context.Context, req SendRequest) SendResult {
	start := time.Now()

	body, err := json.Marshal(webhookPayload{To: req.To, Subject: req.Subject, Body: req.Body})
	if err != nil {
		return SendResult{Error: fmt.Errorf("marshal: %w", err), Duration: time.Since(start)}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = defaultSendTimeout
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctxTimeout, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return SendResult{Error: fmt.Errorf("create request: %w", err), Duration: time.Since(start)}
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Remindd-Attempt-ID", req.AttemptID)
	httpReq.Header.Set("X-Remindd-Signature", computeSignature(s.secret, body))

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return SendResult{Error: fmt.Errorf("send: %w", err), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return SendResult{Error: fmt.Errorf("receiver returned status %d", resp.StatusCode), Duration: time.Since(start)}
	}
	return SendResult{Duration: time.Since(start)}
}

func computeSignature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature is for receivers to verify incoming notifications.
func VerifySignature(secret string, body []byte, signature string) bool {
	expected := computeSignature(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
