// Package trigger derives reminder trigger times from event records.
//
// The calculator is pure: the same event record always yields the same
// trigger set, which is what makes startup reconciliation idempotent.
package trigger

import (
	"fmt"
	"sort"
	"time"

	"github.com/Tannybot/remindd/internal/domain"
)

// Offset pairs a reminder kind with how long before the event start it fires.
type Offset struct {
	Kind   domain.ReminderKind
	Before time.Duration
}

// DefaultOffsets is the stock reminder set: one day and one hour before start.
func DefaultOffsets() []Offset {
	return []Offset{
		{Kind: domain.KindOneDayBefore, Before: 24 * time.Hour},
		{Kind: domain.KindOneHourBefore, Before: time.Hour},
	}
}

// StartedTolerance is how far past its start time an event may be before the
// calculator stops producing triggers for it at all.
const StartedTolerance = time.Minute

// Trigger is a single computed (kind, time) pair.
type Trigger struct {
	Kind domain.ReminderKind
	At   time.Time
}

// Calculator computes trigger sets from a fixed offset table. Event start
// times are resolved in loc; the choice of location is a deployment concern
// exposed through configuration, not hardcoded.
type Calculator struct {
	offsets []Offset
	loc     *time.Location
}

func NewCalculator(offsets []Offset, loc *time.Location) *Calculator {
	if len(offsets) == 0 {
		offsets = DefaultOffsets()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{offsets: offsets, loc: loc}
}

// Compute returns the ordered trigger set for an event as of now.
//
// The empty set (with a nil error) means the event has already started; an
// error means the start time did not parse. Triggers in the past are still
// returned for events that have not started yet - the scheduler decides
// whether they fall inside the grace window or get discarded.
func (c *Calculator) Compute(event domain.Event, now time.Time) ([]Trigger, error) {
	start, err := event.StartAt(c.loc)
	if err != nil {
		return nil, fmt.Errorf("compute triggers: %w", err)
	}

	if !start.After(now.Add(-StartedTolerance)) {
		return nil, nil
	}

	triggers := make([]Trigger, 0, len(c.offsets))
	for _, off := range c.offsets {
		triggers = append(triggers, Trigger{
			Kind: off.Kind,
			At:   start.Add(-off.Before).UTC(),
		})
	}

	sort.Slice(triggers, func(i, j int) bool {
		if triggers[i].At.Equal(triggers[j].At) {
			return triggers[i].Kind < triggers[j].Kind
		}
		return triggers[i].At.Before(triggers[j].At)
	})

	return triggers, nil
}
