package metrics

import (
	"time"

	"github.com/Tannybot/remindd/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, jobsEmitted int, err error)
	PendingJobsUpdate(count int)
	JobsSuperseded(count int)

	// Dispatcher metrics
	SendCompleted(kind domain.ReminderKind, outcome string, duration time.Duration)
	FireCompleted(outcome string)
	FiresInFlightIncr()
	FiresInFlightDecr()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
}
