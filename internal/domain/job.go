package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

type ReminderKind string

const (
	KindOneDayBefore  ReminderKind = "one_day_before"
	KindOneHourBefore ReminderKind = "one_hour_before"
)

// Label returns the human wording used in notification subjects and bodies.
func (k ReminderKind) Label() string {
	switch k {
	case KindOneDayBefore:
		return "24-hour"
	case KindOneHourBefore:
		return "1-hour"
	default:
		return string(k)
	}
}

type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateFired      JobState = "fired"
	JobStateSuperseded JobState = "superseded"
	JobStateDiscarded  JobState = "discarded"
)

// ReminderJob is a scheduled reminder owned by remindd. TriggerTime is always
// derived from the event's start time minus the kind's offset, never mutated
// directly. Superseded and fired jobs are kept for audit until the janitor
// purges them.
type ReminderJob struct {
	ID      string
	EventID string
	Kind    ReminderKind

	TriggerTime time.Time

	Fired        bool
	FiredAt      *time.Time
	SupersededAt *time.Time
	Discarded    bool

	CreatedAt time.Time
}

// State derives the job's lifecycle state. Supersede wins over fired: a job
// superseded before its fire completed is reported superseded.
func (j ReminderJob) State() JobState {
	switch {
	case j.SupersededAt != nil:
		return JobStateSuperseded
	case j.Fired:
		return JobStateFired
	case j.Discarded:
		return JobStateDiscarded
	default:
		return JobStatePending
	}
}

// Active reports whether the job is still eligible to fire.
func (j ReminderJob) Active() bool {
	return j.State() == JobStatePending
}

// NewJobID derives the deterministic job identifier. Recomputing the same
// event yields the same IDs, so upserts are idempotent; a rescheduled event
// yields new IDs so superseded history survives.
func NewJobID(eventID string, kind ReminderKind, triggerTime time.Time) string {
	data := fmt.Sprintf("%s|%s|%d", eventID, kind, triggerTime.UTC().Unix())
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
