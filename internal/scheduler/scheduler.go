// Package scheduler owns the reminder timeline.
//
// Event mutations (created/updated/deleted) and the tick's list-and-claim
// phase share one mutex; reminder volume is low, so coarse locking keeps the
// supersede-then-upsert sequence atomic with respect to a concurrent tick.
// Claimed jobs are tracked in an in-flight set so two overlapping ticks can
// never both emit the same job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Tannybot/remindd/internal/domain"
	"github.com/Tannybot/remindd/internal/trigger"
)

// ErrJobNotFound is returned by Store.GetJob for an unknown job ID.
var ErrJobNotFound = errors.New("reminder job not found")

// Store is the durable reminder job store.
type Store interface {
	UpsertJob(ctx context.Context, job domain.ReminderJob) error
	GetJob(ctx context.Context, jobID string) (domain.ReminderJob, error)
	ListPending(ctx context.Context, asOf time.Time) ([]domain.ReminderJob, error)
	ListJobs(ctx context.Context) ([]domain.ReminderJob, error)
	Supersede(ctx context.Context, eventID string, at time.Time) (int, error)
}

// EventStore is the read-only view of the events the scheduler does not own.
// Used for startup reconciliation.
type EventStore interface {
	ListEvents(ctx context.Context) ([]domain.Event, error)
}

// Calculator computes the trigger set for an event.
type Calculator interface {
	Compute(event domain.Event, now time.Time) ([]trigger.Trigger, error)
}

// Emitter hands due jobs to the dispatcher.
type Emitter interface {
	Emit(ctx context.Context, event domain.FireEvent) error
}

// MetricsSink defines the interface for recording scheduler metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, jobsEmitted int, err error)
	PendingJobsUpdate(count int)
	JobsSuperseded(count int)
}

type Config struct {
	// TickInterval bounds firing latency: a due job fires at most one
	// interval after its trigger time.
	TickInterval time.Duration

	// GraceWindow is how far in the past a newly computed trigger may lie
	// and still be scheduled (it then fires on the next tick). Triggers
	// older than that are recorded as discarded, never fired.
	GraceWindow time.Duration
}

type Scheduler struct {
	config  Config
	store   Store
	events  EventStore
	calc    Calculator
	emitter Emitter
	metrics MetricsSink // optional, nil = disabled
	clock   func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(config Config, store Store, events EventStore, calc Calculator, emitter Emitter) *Scheduler {
	if config.GraceWindow == 0 {
		config.GraceWindow = 5 * time.Minute
	}
	return &Scheduler{
		config:   config,
		store:    store,
		events:   events,
		calc:     calc,
		emitter:  emitter,
		clock:    time.Now,
		inflight: make(map[string]struct{}),
	}
}

// WithMetrics attaches a metrics sink to the scheduler.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// Run reconciles the persisted schedule against the event store, then ticks
// until ctx is cancelled. Stopping is graceful in the sense that no new jobs
// are emitted after cancellation; in-flight dispatches finish on their own.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Reconcile(ctx); err != nil {
		log.Printf("scheduler: startup reconciliation error: %v", err)
	}

	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s grace=%s", s.config.TickInterval, s.config.GraceWindow)

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// OnEventCreated schedules reminders for a new event, superseding any jobs a
// previous version of the event may have left behind.
func (s *Scheduler) OnEventCreated(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEvent(ctx, event)
}

// OnEventUpdated reschedules reminders for a changed event. Old jobs are
// superseded and fresh ones created with recomputed trigger times.
func (s *Scheduler) OnEventUpdated(ctx context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEvent(ctx, event)
}

// applyEvent runs creation semantics for an event. Callers hold s.mu.
func (s *Scheduler) applyEvent(ctx context.Context, event domain.Event) error {
	now := s.clock().UTC()

	superseded, err := s.store.Supersede(ctx, event.ID, now)
	if err != nil {
		return fmt.Errorf("supersede event %s: %w", event.ID, err)
	}
	if superseded > 0 && s.metrics != nil {
		s.metrics.JobsSuperseded(superseded)
	}

	triggers, err := s.calc.Compute(event, now)
	if err != nil {
		// Malformed start time: the event is excluded from scheduling.
		// Not fatal to anything else.
		log.Printf("scheduler: WARNING skipping event %s: %v", event.ID, err)
		return nil
	}
	if len(triggers) == 0 {
		log.Printf("scheduler: event %s has no upcoming reminders", event.ID)
		return nil
	}

	scheduled := 0
	for _, tr := range triggers {
		job := domain.ReminderJob{
			ID:          domain.NewJobID(event.ID, tr.Kind, tr.At),
			EventID:     event.ID,
			Kind:        tr.Kind,
			TriggerTime: tr.At,
			CreatedAt:   now,
		}

		// A job that already reached a terminal fired/discarded state must
		// keep its record; re-upserting would erase the fired flag and
		// reopen the at-most-once window.
		existing, err := s.store.GetJob(ctx, job.ID)
		if err == nil && (existing.Fired || existing.Discarded) {
			continue
		}
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			return fmt.Errorf("get job %s: %w", job.ID, err)
		}

		// Never schedule backward in time: a trigger already past either
		// fires on the next tick (inside the grace window) or is recorded
		// as discarded.
		if age := now.Sub(tr.At); age > s.config.GraceWindow {
			job.Discarded = true
			log.Printf("scheduler: event %s %s trigger %s past grace window, discarded",
				event.ID, tr.Kind, tr.At.Format(time.RFC3339))
		}

		if err := s.store.UpsertJob(ctx, job); err != nil {
			return fmt.Errorf("upsert job %s: %w", job.ID, err)
		}
		if !job.Discarded {
			scheduled++
		}
	}

	log.Printf("scheduler: scheduled %d reminders for event %s", scheduled, event.ID)
	return nil
}

// OnEventDeleted supersedes every active job for the event. Superseded jobs
// never dispatch, even if their trigger time has already passed; the change
// is visible to the very next tick.
func (s *Scheduler) OnEventDeleted(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	superseded, err := s.store.Supersede(ctx, eventID, now)
	if err != nil {
		return fmt.Errorf("supersede event %s: %w", eventID, err)
	}
	if superseded > 0 && s.metrics != nil {
		s.metrics.JobsSuperseded(superseded)
	}

	log.Printf("scheduler: event %s deleted, superseded %d jobs", eventID, superseded)
	return nil
}

// Tick emits every due pending job exactly once. A job stays claimed from
// emission until the dispatcher calls Release, so a slow dispatch cannot be
// re-emitted by the next tick.
func (s *Scheduler) Tick(ctx context.Context) error {
	start := s.clock()
	if s.metrics != nil {
		s.metrics.TickStarted()
	}

	emitted, err := s.tick(ctx)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), emitted, err)
	}
	return err
}

func (s *Scheduler) tick(ctx context.Context) (int, error) {
	s.mu.Lock()
	now := s.clock().UTC()

	due, err := s.store.ListPending(ctx, now)
	if err != nil {
		s.mu.Unlock()
		return 0, fmt.Errorf("list pending: %w", err)
	}

	toFire := make([]domain.ReminderJob, 0, len(due))
	for _, job := range due {
		if _, claimed := s.inflight[job.ID]; claimed {
			continue
		}
		s.inflight[job.ID] = struct{}{}
		toFire = append(toFire, job)
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PendingJobsUpdate(len(due))
	}

	emitted := 0
	for _, job := range toFire {
		fire := domain.FireEvent{
			JobID:       job.ID,
			EventID:     job.EventID,
			Kind:        job.Kind,
			TriggerTime: job.TriggerTime,
			FiredAt:     now,
		}
		if err := s.emitter.Emit(ctx, fire); err != nil {
			// Buffer full or shutdown. Unclaim so the next tick retries.
			s.Release(job.ID)
			log.Printf("scheduler: emit job=%s error: %v", job.ID, err)
			continue
		}
		emitted++
		log.Printf("scheduler: emitted job=%s event=%s kind=%s trigger=%s",
			job.ID, job.EventID, job.Kind, job.TriggerTime.Format(time.RFC3339))
	}

	return emitted, nil
}

// Release drops a job from the in-flight set. The dispatcher calls this once
// the job reached a terminal state or its dispatch was abandoned.
func (s *Scheduler) Release(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, jobID)
}

// Reconcile rebuilds the schedule from durable event state. An event is
// considered satisfied when every job its current trigger set derives already
// exists and was not superseded; anything else gets creation semantics
// re-run. Deterministic job IDs make this safe to repeat, and jobs that fired
// before a restart stay fired.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	events, err := s.events.ListEvents(ctx)
	if err != nil {
		return fmt.Errorf("list events: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock().UTC()
	backfilled := 0

	for _, event := range events {
		triggers, err := s.calc.Compute(event, now)
		if err != nil {
			log.Printf("scheduler: WARNING reconcile skipping event %s: %v", event.ID, err)
			continue
		}
		if len(triggers) == 0 {
			continue
		}

		satisfied, err := s.triggersSatisfied(ctx, event.ID, triggers)
		if err != nil {
			return err
		}
		if satisfied {
			continue
		}

		if err := s.applyEvent(ctx, event); err != nil {
			log.Printf("scheduler: reconcile event %s error: %v", event.ID, err)
			continue
		}
		backfilled++
	}

	log.Printf("scheduler: reconciled %d events, backfilled %d", len(events), backfilled)
	return nil
}

func (s *Scheduler) triggersSatisfied(ctx context.Context, eventID string, triggers []trigger.Trigger) (bool, error) {
	for _, tr := range triggers {
		id := domain.NewJobID(eventID, tr.Kind, tr.At)
		job, err := s.store.GetJob(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("get job %s: %w", id, err)
		}
		if job.SupersededAt != nil {
			return false, nil
		}
	}
	return true, nil
}

// Schedule returns every job the store knows about, for diagnostics.
func (s *Scheduler) Schedule(ctx context.Context) ([]domain.ReminderJob, error) {
	return s.store.ListJobs(ctx)
}
