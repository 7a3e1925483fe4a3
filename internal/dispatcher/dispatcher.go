// Package dispatcher delivers reminder notifications for due jobs.
//
// A dispatch is at-most-once per job, not per recipient: the job is marked
// fired only after the whole recipient fan-out has been attempted, so a crash
// between fan-out and mark-fired re-sends to already-notified recipients on
// the next restart. That window is documented and accepted.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tannybot/remindd/internal/domain"
)

// ErrAlreadyFired is returned by JobStore.MarkFired when the job's fired flag
// was already set. Under normal single-claim execution it never surfaces; if
// it does, the dispatch is treated as a no-op.
var ErrAlreadyFired = errors.New("reminder job already fired")

// ErrEventNotFound is returned by EventStore.GetEvent for a deleted or
// unknown event.
var ErrEventNotFound = errors.New("event not found")

// JobStore is the slice of the job store the dispatcher needs.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (domain.ReminderJob, error)
	// MarkFired transitions fired false->true exactly once and returns
	// ErrAlreadyFired on a repeat call.
	MarkFired(ctx context.Context, jobID string, at time.Time) error
}

// EventStore reads event records owned by the events application.
type EventStore interface {
	GetEvent(ctx context.Context, eventID string) (domain.Event, error)
}

// RegistrationStore reads registrations owned by the events application.
type RegistrationStore interface {
	ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error)
}

// Sender delivers one rendered notification. Failure comes back as a result
// value, never a panic or thrown error.
type Sender interface {
	Send(ctx context.Context, req SendRequest) SendResult
}

// Breaker guards repeatedly failing recipient addresses. Optional.
type Breaker interface {
	Allow(address string) error
	RecordSuccess(address string)
	RecordFailure(address string)
}

// AuditSink records completed fires. Implementations handle their own errors;
// auditing never affects dispatch correctness.
type AuditSink interface {
	Record(ctx context.Context, event domain.FireEvent, attempted, failed int)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	SendCompleted(kind domain.ReminderKind, outcome string, duration time.Duration)
	FireCompleted(outcome string)
	FiresInFlightIncr()
	FiresInFlightDecr()
}

// Completer releases the scheduler's in-flight claim on a job.
type Completer interface {
	Release(jobID string)
}

type SendRequest struct {
	To      string
	Subject string
	Body    string
	Timeout time.Duration

	// AttemptID identifies this send in logs and outgoing headers.
	AttemptID string
}

type SendResult struct {
	Error    error
	Duration time.Duration
}

func (r SendResult) OK() bool { return r.Error == nil }

// Send outcome labels for metrics.
const (
	OutcomeSent        = "sent"
	OutcomeFailed      = "failed"
	OutcomeTimeout     = "timeout"
	OutcomeCircuitOpen = "circuit_open"
)

// Fire outcome labels for metrics.
const (
	FireOutcomeFired    = "fired"
	FireOutcomeSkipped  = "skipped"
	FireOutcomeDeferred = "deferred"
)

const defaultSendTimeout = 10 * time.Second

type Dispatcher struct {
	jobs     JobStore
	events   EventStore
	regs     RegistrationStore
	sender   Sender
	renderer *Renderer

	timeout      time.Duration
	drainTimeout time.Duration
	breaker      Breaker   // optional, nil = disabled
	audit        AuditSink // optional, nil = disabled
	metrics      MetricsSink
	complete     Completer
}

func New(jobs JobStore, events EventStore, regs RegistrationStore, sender Sender) *Dispatcher {
	return &Dispatcher{
		jobs:         jobs,
		events:       events,
		regs:         regs,
		sender:       sender,
		renderer:     NewRenderer(),
		timeout:      defaultSendTimeout,
		drainTimeout: DefaultDrainTimeout,
	}
}

// WithSendTimeout sets the per-recipient send timeout.
func (d *Dispatcher) WithSendTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithBreaker attaches a circuit breaker keyed by recipient address.
func (d *Dispatcher) WithBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithAudit attaches an audit sink.
func (d *Dispatcher) WithAudit(sink AuditSink) *Dispatcher {
	d.audit = sink
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink) *Dispatcher {
	d.metrics = sink
	return d
}

// WithCompleter attaches the claim releaser (normally the scheduler).
func (d *Dispatcher) WithCompleter(c Completer) *Dispatcher {
	d.complete = c
	return d
}

// DefaultDrainTimeout is the maximum time to wait for buffered fire events
// during shutdown.
const DefaultDrainTimeout = 30 * time.Second

// WithDrainTimeout sets the shutdown drain timeout.
func (d *Dispatcher) WithDrainTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.drainTimeout = timeout
	}
	return d
}

// Run processes fire events from the channel until ctx is cancelled, then
// drains remaining buffered events with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.FireEvent) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case fire := <-ch:
			if _, err := d.Dispatch(ctx, fire); err != nil {
				log.Printf("dispatcher: job=%s error: %v", fire.JobID, err)
			}
		}
	}
}

// drain processes buffered fire events after the shutdown signal, on a
// background context since the main one is already cancelled.
func (d *Dispatcher) drain(ch <-chan domain.FireEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				log.Printf("dispatcher: drain timeout, processed %d fires", count)
			}
			return
		case fire, ok := <-ch:
			if !ok {
				log.Printf("dispatcher: drain complete, processed %d fires", count)
				return
			}
			if _, err := d.Dispatch(drainCtx, fire); err != nil {
				log.Printf("dispatcher: drain job=%s error: %v", fire.JobID, err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("dispatcher: drain complete, processed %d fires", count)
			}
			return
		}
	}
}

// Dispatch delivers one fire event and returns the number of recipients the
// sender accepted. A returned error means the job was NOT marked fired and
// stays pending for the next tick (store unavailable and similar); skips for
// superseded or already-fired jobs return (0, nil).
func (d *Dispatcher) Dispatch(ctx context.Context, fire domain.FireEvent) (int, error) {
	if d.complete != nil {
		defer d.complete.Release(fire.JobID)
	}
	if d.metrics != nil {
		d.metrics.FiresInFlightIncr()
		defer d.metrics.FiresInFlightDecr()
	}

	job, err := d.jobs.GetJob(ctx, fire.JobID)
	if err != nil {
		d.fireOutcome(FireOutcomeDeferred)
		return 0, fmt.Errorf("get job: %w", err)
	}

	// Supersede check immediately before dispatch: an event deleted or
	// rescheduled between listing and firing must not notify anyone.
	if job.SupersededAt != nil {
		log.Printf("dispatcher: job=%s superseded before dispatch, skipping", fire.JobID)
		d.fireOutcome(FireOutcomeSkipped)
		return 0, nil
	}
	if job.Fired {
		// Invariant violation under normal operation; never re-dispatch.
		log.Printf("dispatcher: ERROR job=%s already fired, skipping dispatch", fire.JobID)
		d.fireOutcome(FireOutcomeSkipped)
		return 0, nil
	}

	// Re-fetch the event so a last-second edit to name/location shows up in
	// the outgoing message.
	event, err := d.events.GetEvent(ctx, fire.EventID)
	if errors.Is(err, ErrEventNotFound) {
		// Deleted under us. Success no-op, but close the job so it does
		// not come due again.
		log.Printf("dispatcher: job=%s event %s gone, closing without dispatch", fire.JobID, fire.EventID)
		if err := d.markFired(ctx, fire); err != nil {
			return 0, err
		}
		d.fireOutcome(FireOutcomeSkipped)
		return 0, nil
	}
	if err != nil {
		d.fireOutcome(FireOutcomeDeferred)
		return 0, fmt.Errorf("get event: %w", err)
	}

	regs, err := d.regs.ListByEvent(ctx, fire.EventID)
	if err != nil {
		d.fireOutcome(FireOutcomeDeferred)
		return 0, fmt.Errorf("list registrations: %w", err)
	}

	msg, err := d.renderer.Render(fire.Kind, event)
	if err != nil {
		d.fireOutcome(FireOutcomeDeferred)
		return 0, fmt.Errorf("render %s: %w", fire.Kind, err)
	}

	accepted, failed := d.fanOut(ctx, fire, regs, msg)

	// Mark fired only after every recipient was attempted. The crash window
	// between here and the fan-out above is the documented double-send risk.
	if err := d.markFired(ctx, fire); err != nil {
		return accepted, err
	}

	if d.audit != nil {
		d.audit.Record(ctx, fire, len(regs), failed)
	}
	d.fireOutcome(FireOutcomeFired)

	log.Printf("dispatcher: job=%s event=%s kind=%s sent=%d failed=%d",
		fire.JobID, fire.EventID, fire.Kind, accepted, failed)
	return accepted, nil
}

// fanOut sends to every registrant concurrently. One recipient's failure
// never blocks the others.
func (d *Dispatcher) fanOut(ctx context.Context, fire domain.FireEvent, regs []domain.Registration, msg Message) (accepted, failed int) {
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for _, reg := range regs {
		if reg.Email == "" {
			log.Printf("dispatcher: job=%s registration %s has no address, skipping", fire.JobID, reg.ID)
			continue
		}

		wg.Add(1)
		go func(reg domain.Registration) {
			defer wg.Done()

			if d.breaker != nil {
				if err := d.breaker.Allow(reg.Email); err != nil {
					log.Printf("dispatcher: job=%s to=%s circuit open, counted as failure", fire.JobID, reg.Email)
					d.sendOutcome(fire.Kind, OutcomeCircuitOpen, 0)
					mu.Lock()
					failed++
					mu.Unlock()
					return
				}
			}

			req := SendRequest{
				To:        reg.Email,
				Subject:   msg.Subject,
				Body:      msg.Body,
				Timeout:   d.timeout,
				AttemptID: uuid.New().String(),
			}
			result := d.sender.Send(ctx, req)

			if result.OK() {
				if d.breaker != nil {
					d.breaker.RecordSuccess(reg.Email)
				}
				d.sendOutcome(fire.Kind, OutcomeSent, result.Duration)
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}

			if d.breaker != nil {
				d.breaker.RecordFailure(reg.Email)
			}
			outcome := OutcomeFailed
			if errors.Is(result.Error, context.DeadlineExceeded) {
				outcome = OutcomeTimeout
			}
			d.sendOutcome(fire.Kind, outcome, result.Duration)
			log.Printf("dispatcher: job=%s to=%s send failed: %v", fire.JobID, reg.Email, result.Error)
			mu.Lock()
			failed++
			mu.Unlock()
		}(reg)
	}

	wg.Wait()
	return accepted, failed
}

func (d *Dispatcher) markFired(ctx context.Context, fire domain.FireEvent) error {
	err := d.jobs.MarkFired(ctx, fire.JobID, time.Now().UTC())
	if errors.Is(err, ErrAlreadyFired) {
		// Race invariant violation; already delivered, never re-dispatch.
		log.Printf("dispatcher: ERROR job=%s mark-fired raced an earlier fire", fire.JobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("mark fired: %w", err)
	}
	return nil
}

func (d *Dispatcher) fireOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.FireCompleted(outcome)
	}
}

func (d *Dispatcher) sendOutcome(kind domain.ReminderKind, outcome string, duration time.Duration) {
	if d.metrics != nil {
		d.metrics.SendCompleted(kind, outcome, duration)
	}
}
