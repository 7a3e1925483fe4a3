package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/Tannybot/remindd/internal/dispatcher"
	"github.com/Tannybot/remindd/internal/domain"
)

// Scheduler is the subset of the scheduler the API drives. Sync calls feed
// event changes in without waiting for the next reconciliation pass.
type Scheduler interface {
	OnEventCreated(ctx context.Context, event domain.Event) error
	OnEventUpdated(ctx context.Context, event domain.Event) error
	OnEventDeleted(ctx context.Context, eventID string) error
	Schedule(ctx context.Context) ([]domain.ReminderJob, error)
}

// EventStore loads events for sync requests. The events table is owned by
// the community platform; remindd only reads it.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

// HealthChecker provides database health status for the /health endpoint.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

type Handler struct {
	scheduler Scheduler
	events    EventStore
	db        HealthChecker
}

func NewHandler(scheduler Scheduler, events EventStore) *Handler {
	return &Handler{scheduler: scheduler, events: events}
}

// WithHealthChecker sets the database health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	switch {
	case path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case path == "/schedule" && r.Method == http.MethodGet:
		h.schedule(w, r)

	case path == "/events/sync" && r.Method == http.MethodPost:
		h.syncEvent(w, r)

	case strings.HasPrefix(path, "/events/") && r.Method == http.MethodDelete:
		h.deleteEvent(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

func (h *Handler) schedule(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.scheduler.Schedule(r.Context())
	if err != nil {
		log.Printf("api: schedule error: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to load schedule")
		return
	}

	state := r.URL.Query().Get("state")
	if state != "" && !validJobState(state) {
		writeError(w, http.StatusBadRequest, "unknown state filter")
		return
	}

	resp := ScheduleResponse{Jobs: make([]JobResponse, 0, len(jobs))}
	for _, job := range jobs {
		if state != "" && string(job.State()) != state {
			continue
		}
		resp.Jobs = append(resp.Jobs, toJobResponse(job))
	}

	writeJSON(w, http.StatusOK, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) syncEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req SyncEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	if err := validateSyncEvent(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.events.GetEvent(r.Context(), req.EventID)
	if err != nil {
		if errors.Is(err, dispatcher.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		log.Printf("api: sync event %s: load error: %v", req.EventID, err)
		writeError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	switch req.Action {
	case ActionCreated:
		err = h.scheduler.OnEventCreated(r.Context(), event)
	case ActionUpdated:
		err = h.scheduler.OnEventUpdated(r.Context(), event)
	}
	if err != nil {
		log.Printf("api: sync event %s: %v", req.EventID, err)
		writeError(w, http.StatusInternalServerError, "failed to sync event")
		return
	}

	writeJSON(w, http.StatusOK, SyncEventResponse{EventID: req.EventID, Synced: true})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	// Extract event ID from path: /events/{id}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) != 2 || parts[0] != "events" || parts[1] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	eventID := parts[1]

	if err := h.scheduler.OnEventDeleted(r.Context(), eventID); err != nil {
		log.Printf("api: delete event %s: %v", eventID, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel reminders")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toJobResponse(job domain.ReminderJob) JobResponse {
	resp := JobResponse{
		ID:          job.ID,
		EventID:     job.EventID,
		Kind:        string(job.Kind),
		State:       string(job.State()),
		TriggerTime: formatTime(job.TriggerTime),
		CreatedAt:   formatTime(job.CreatedAt),
	}
	if job.FiredAt != nil {
		resp.FiredAt = formatTime(*job.FiredAt)
	}
	if job.SupersededAt != nil {
		resp.SupersededAt = formatTime(*job.SupersededAt)
	}
	return resp
}

func validJobState(s string) bool {
	switch domain.JobState(s) {
	case domain.JobStatePending, domain.JobStateFired, domain.JobStateSuperseded, domain.JobStateDiscarded:
		return true
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
