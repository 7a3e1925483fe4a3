package domain

import "time"

// FireEvent is emitted by the scheduler when a reminder job comes due. The
// dispatcher re-fetches the job and event by ID at delivery time, so the
// payload carries only identifiers and timing.
type FireEvent struct {
	JobID   string
	EventID string
	Kind    ReminderKind

	TriggerTime time.Time // intended fire time (UTC)
	FiredAt     time.Time // actual emission time
}
