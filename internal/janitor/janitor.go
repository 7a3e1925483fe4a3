// Package janitor garbage-collects terminal reminder jobs.
//
// Fired, superseded and discarded jobs are kept for audit until their trigger
// time is older than the retention window, then deleted on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Store deletes terminal jobs older than a cutoff.
type Store interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config holds janitor configuration.
type Config struct {
	// Schedule is a standard 5-field cron expression, evaluated in UTC.
	// Default: nightly at 03:00.
	Schedule string

	// Retention is how long terminal jobs outlive their trigger time.
	// Default: 30 days.
	Retention time.Duration
}

// DefaultConfig returns the default janitor configuration.
func DefaultConfig() Config {
	return Config{
		Schedule:  "0 3 * * *",
		Retention: 30 * 24 * time.Hour,
	}
}

// Janitor purges old terminal jobs on a cron schedule.
type Janitor struct {
	config Config
	store  Store
	sched  cron.Schedule
	clock  func() time.Time
}

// New creates a Janitor. Returns an error when the cron expression does not
// parse.
func New(config Config, store Store) (*Janitor, error) {
	if config.Schedule == "" {
		config.Schedule = DefaultConfig().Schedule
	}
	if config.Retention <= 0 {
		config.Retention = DefaultConfig().Retention
	}

	sched, err := cron.ParseStandard(config.Schedule)
	if err != nil {
		return nil, fmt.Errorf("parse janitor schedule %q: %w", config.Schedule, err)
	}

	return &Janitor{
		config: config,
		store:  store,
		sched:  sched,
		clock:  time.Now,
	}, nil
}

// Run blocks until ctx is cancelled, purging at each scheduled time.
func (j *Janitor) Run(ctx context.Context) {
	log.Printf("janitor: started (schedule=%q, retention=%s)", j.config.Schedule, j.config.Retention)

	for {
		now := j.clock().UTC()
		next := j.sched.Next(now)

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("janitor: stopped")
			return
		case <-timer.C:
			j.runCycle(ctx)
		}
	}
}

// runCycle executes one purge pass.
func (j *Janitor) runCycle(ctx context.Context) {
	cutoff := j.clock().UTC().Add(-j.config.Retention)

	purged, err := j.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		// DB error: log and skip. Next scheduled run retries.
		log.Printf("janitor: purge error: %v", err)
		return
	}

	if purged > 0 {
		log.Printf("janitor: purged %d jobs older than %s", purged, cutoff.Format(time.RFC3339))
	}
}
