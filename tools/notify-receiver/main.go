// notify-receiver is a development endpoint for remindd's webhook channel.
// It records every reminder notification it receives and optionally checks
// the HMAC signature when SECRET is set.
package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type request struct {
	Timestamp string            `json:"timestamp"`
	AttemptID string            `json:"attempt_id,omitempty"`
	Signature string            `json:"signature,omitempty"`
	SigValid  *bool             `json:"signature_valid,omitempty"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
}

type stats struct {
	Count        int64     `json:"count"`
	LastRequests []request `json:"last_requests"`
	Since        string    `json:"since"`
}

var (
	mu           sync.Mutex
	count        int64
	lastRequests []request
	since        time.Time
	maxStored    = 50
	secret       string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("SECRET")

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/notify", notifyHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		lastRequests = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("notify-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func notifyHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	req := request{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		AttemptID: r.Header.Get("X-Remindd-Attempt-ID"),
		Signature: r.Header.Get("X-Remindd-Signature"),
		Headers:   headers,
		Body:      string(body),
	}

	if secret != "" && req.Signature != "" {
		valid := verifySignature(secret, body, req.Signature)
		req.SigValid = &valid
		if !valid {
			log.Printf("notify: signature mismatch (attempt=%s)", req.AttemptID)
		}
	}

	mu.Lock()
	count++
	lastRequests = append(lastRequests, req)
	if len(lastRequests) > maxStored {
		lastRequests = lastRequests[len(lastRequests)-maxStored:]
	}
	current := count
	mu.Unlock()

	log.Printf("notify received #%d: %s", current, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:        count,
		LastRequests: lastRequests,
		Since:        since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func verifySignature(secret string, body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
