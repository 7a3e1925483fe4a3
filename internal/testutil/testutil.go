// Package testutil provides shared test helpers for remindd.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tannybot/remindd/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// Event builds a valid event starting at the given instant. The start is
// split into the date and time-of-day fields the way the events table
// stores them.
func Event(id, name string, startAt time.Time) domain.Event {
	return domain.Event{
		ID:        id,
		Name:      name,
		Location:  "Community Hall",
		Date:      startAt.UTC().Format("2006-01-02"),
		TimeOfDay: startAt.UTC().Format("15:04"),
		Capacity:  50,
		CreatedAt: startAt.Add(-30 * 24 * time.Hour),
	}
}
