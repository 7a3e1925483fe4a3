package api

import "time"

// Sync actions accepted by POST /events/sync.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
)

type SyncEventRequest struct {
	EventID string `json:"event_id"`
	Action  string `json:"action"`
}

type SyncEventResponse struct {
	EventID string `json:"event_id"`
	Synced  bool   `json:"synced"`
}

type JobResponse struct {
	ID           string `json:"id"`
	EventID      string `json:"event_id"`
	Kind         string `json:"kind"`
	State        string `json:"state"`
	TriggerTime  string `json:"trigger_time"`
	FiredAt      string `json:"fired_at,omitempty"`
	SupersededAt string `json:"superseded_at,omitempty"`
	CreatedAt    string `json:"created_at"`
}

type ScheduleResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
