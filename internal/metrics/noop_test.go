package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/Tannybot/remindd/internal/domain"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	// Scheduler metrics
	s.TickStarted()
	s.TickCompleted(100*time.Millisecond, 5, nil)
	s.TickCompleted(100*time.Millisecond, 0, errors.New("db error"))
	s.PendingJobsUpdate(3)
	s.JobsSuperseded(2)

	// Dispatcher metrics
	s.SendCompleted(domain.KindOneDayBefore, "sent", 200*time.Millisecond)
	s.SendCompleted(domain.KindOneHourBefore, "failed", 0)
	s.FireCompleted("fired")
	s.FireCompleted("skipped")
	s.FiresInFlightIncr()
	s.FiresInFlightDecr()

	// Leader election metrics
	s.LeaderStatusChanged(true)
	s.LeaderStatusChanged(false)
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
