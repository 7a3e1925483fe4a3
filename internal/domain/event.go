package domain

import (
	"fmt"
	"time"
)

// Event is a community event record. The events application owns this data;
// remindd only ever reads it. Date and TimeOfDay are kept as the display
// strings the owning application stores them in.
type Event struct {
	ID          string
	Name        string
	Description string
	Location    string

	Date      string // "2006-01-02"
	TimeOfDay string // "15:04" or "15:04:05", may be empty

	Capacity   int
	Registered int

	CreatedAt time.Time
}

// startLayouts are tried in order when combining Date and TimeOfDay.
var startLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// StartAt resolves the event's absolute start instant in the given location.
// An event with no TimeOfDay starts at midnight. Returns an error when the
// stored strings do not parse; callers treat that as a malformed event and
// skip scheduling.
func (e Event) StartAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}

	raw := e.Date
	if e.TimeOfDay != "" {
		raw = e.Date + " " + e.TimeOfDay
	}

	for _, layout := range startLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("event %s: unparsable start %q", e.ID, raw)
}
