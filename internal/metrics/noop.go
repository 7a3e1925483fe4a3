package metrics

import (
	"time"

	"github.com/Tannybot/remindd/internal/domain"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                             {}
func (n *NoopSink) TickCompleted(duration time.Duration, jobsEmitted int, err error)         {}
func (n *NoopSink) PendingJobsUpdate(count int)                                              {}
func (n *NoopSink) JobsSuperseded(count int)                                                 {}
func (n *NoopSink) SendCompleted(kind domain.ReminderKind, outcome string, d time.Duration)  {}
func (n *NoopSink) FireCompleted(outcome string)                                             {}
func (n *NoopSink) FiresInFlightIncr()                                                       {}
func (n *NoopSink) FiresInFlightDecr()                                                       {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                        {}
