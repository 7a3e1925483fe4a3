package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Tannybot/remindd/internal/domain"
	"github.com/Tannybot/remindd/internal/testutil"
)

// mockJobStore holds jobs in memory with the same mark-fired guard as the
// Postgres store.
type mockJobStore struct {
	mu   sync.Mutex
	jobs map[string]domain.ReminderJob
}

func newMockJobStore() *mockJobStore {
	return &mockJobStore{jobs: make(map[string]domain.ReminderJob)}
}

func (s *mockJobStore) put(job domain.ReminderJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *mockJobStore) GetJob(ctx context.Context, jobID string) (domain.ReminderJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return domain.ReminderJob{}, errors.New("job not found")
	}
	return job, nil
}

func (s *mockJobStore) MarkFired(ctx context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return errors.New("job not found")
	}
	if job.Fired {
		return ErrAlreadyFired
	}
	job.Fired = true
	job.FiredAt = &at
	s.jobs[jobID] = job
	return nil
}

func (s *mockJobStore) fired(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[jobID].Fired
}

type mockEventStore struct {
	mu     sync.Mutex
	events map[string]domain.Event
	err    error
}

func newMockEventStore(events ...domain.Event) *mockEventStore {
	s := &mockEventStore{events: make(map[string]domain.Event)}
	for _, e := range events {
		s.events[e.ID] = e
	}
	return s
}

func (s *mockEventStore) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return domain.Event{}, s.err
	}
	event, ok := s.events[eventID]
	if !ok {
		return domain.Event{}, ErrEventNotFound
	}
	return event, nil
}

type mockRegStore struct {
	regs []domain.Registration
}

func (s *mockRegStore) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	return s.regs, nil
}

// mockSender records send requests; addresses in failWith get that error.
type mockSender struct {
	mu       sync.Mutex
	requests []SendRequest
	failWith map[string]error
}

func newMockSender() *mockSender {
	return &mockSender{failWith: make(map[string]error)}
}

func (s *mockSender) Send(ctx context.Context, req SendRequest) SendResult {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	err := s.failWith[req.To]
	s.mu.Unlock()
	return SendResult{Error: err, Duration: 5 * time.Millisecond}
}

func (s *mockSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type mockCompleter struct {
	mu       sync.Mutex
	released []string
}

func (c *mockCompleter) Release(jobID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, jobID)
}

func (c *mockCompleter) releaseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.released)
}

// openBreaker refuses every address.
type openBreaker struct{}

func (openBreaker) Allow(address string) error   { return errors.New("circuit open") }
func (openBreaker) RecordSuccess(address string) {}
func (openBreaker) RecordFailure(address string) {}

func registrations(emails ...string) []domain.Registration {
	regs := make([]domain.Registration, len(emails))
	for i, email := range emails {
		regs[i] = domain.Registration{
			ID:      uuid.New(),
			EventID: "evt-1",
			Name:    fmt.Sprintf("Person %d", i+1),
			Email:   email,
		}
	}
	return regs
}

func pendingFire() (domain.ReminderJob, domain.FireEvent) {
	trigger := time.Date(2025, 3, 9, 10, 0, 0, 0, time.UTC)
	job := domain.ReminderJob{
		ID:          domain.NewJobID("evt-1", domain.KindOneDayBefore, trigger),
		EventID:     "evt-1",
		Kind:        domain.KindOneDayBefore,
		TriggerTime: trigger,
		CreatedAt:   trigger.Add(-time.Hour),
	}
	fire := domain.FireEvent{
		JobID:       job.ID,
		EventID:     job.EventID,
		Kind:        job.Kind,
		TriggerTime: job.TriggerTime,
		FiredAt:     trigger.Add(time.Second),
	}
	return job, fire
}

func TestDispatch_FansOutToAllRegistrants(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()
	completer := &mockCompleter{}

	disp := New(jobs, newMockEventStore(event), &mockRegStore{regs: registrations("a@example.com", "b@example.com", "c@example.com")}, sender).
		WithCompleter(completer)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 3 {
		t.Errorf("accepted = %d, want 3", accepted)
	}
	if got := sender.sendCount(); got != 3 {
		t.Errorf("sends = %d, want 3", got)
	}
	if !jobs.fired(job.ID) {
		t.Errorf("job not marked fired after dispatch")
	}
	if got := completer.releaseCount(); got != 1 {
		t.Errorf("claim released %d times, want 1", got)
	}

	// Every attempt carries a distinct ID and the rendered subject.
	seen := make(map[string]bool)
	for _, req := range sender.requests {
		if req.Subject != "Reminder: Go Meetup is 24-hour away!" {
			t.Errorf("subject = %q", req.Subject)
		}
		if seen[req.AttemptID] {
			t.Errorf("duplicate attempt id %s", req.AttemptID)
		}
		seen[req.AttemptID] = true
	}
}

func TestDispatch_RecipientFailureDoesNotBlockOthers(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()
	sender.failWith["b@example.com"] = errors.New("mailbox unavailable")

	disp := New(jobs, newMockEventStore(event), &mockRegStore{regs: registrations("a@example.com", "b@example.com", "c@example.com")}, sender)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}

	// Partial failure still closes the job; the cycle does not repeat for
	// the recipients that succeeded.
	if !jobs.fired(job.ID) {
		t.Errorf("job not marked fired after partial failure")
	}
}

func TestDispatch_SupersededJobSkipped(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()
	supersededAt := time.Date(2025, 3, 9, 9, 59, 0, 0, time.UTC)
	job.SupersededAt = &supersededAt

	jobs := newMockJobStore()
	jobs.put(job)
	sender := newMockSender()
	completer := &mockCompleter{}

	disp := New(jobs, newMockEventStore(), &mockRegStore{regs: registrations("a@example.com")}, sender).
		WithCompleter(completer)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 || sender.sendCount() != 0 {
		t.Errorf("superseded job sent notifications")
	}
	if jobs.fired(job.ID) {
		t.Errorf("superseded job was marked fired")
	}
	if got := completer.releaseCount(); got != 1 {
		t.Errorf("claim released %d times, want 1", got)
	}
}

func TestDispatch_AlreadyFiredJobSkipped(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()
	firedAt := time.Date(2025, 3, 9, 10, 0, 5, 0, time.UTC)
	job.Fired = true
	job.FiredAt = &firedAt

	jobs := newMockJobStore()
	jobs.put(job)
	sender := newMockSender()

	disp := New(jobs, newMockEventStore(), &mockRegStore{regs: registrations("a@example.com")}, sender)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 || sender.sendCount() != 0 {
		t.Errorf("already-fired job sent notifications")
	}
}

func TestDispatch_EventGoneClosesJob(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	sender := newMockSender()

	// Event store has no record of evt-1.
	disp := New(jobs, newMockEventStore(), &mockRegStore{regs: registrations("a@example.com")}, sender)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 || sender.sendCount() != 0 {
		t.Errorf("deleted event sent notifications")
	}
	// The job must close so it never comes due again.
	if !jobs.fired(job.ID) {
		t.Errorf("job left pending after event disappeared")
	}
}

func TestDispatch_StoreErrorDefersJob(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	events := newMockEventStore()
	events.err = errors.New("connection refused")
	sender := newMockSender()

	disp := New(jobs, events, &mockRegStore{}, sender)

	if _, err := disp.Dispatch(ctx, fire); err == nil {
		t.Fatalf("expected error when event store is down")
	}
	// Job stays pending; the next tick retries.
	if jobs.fired(job.ID) {
		t.Errorf("job marked fired despite store error")
	}
}

func TestDispatch_OpenBreakerCountsAsFailure(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()

	disp := New(jobs, newMockEventStore(event), &mockRegStore{regs: registrations("a@example.com")}, sender).
		WithBreaker(openBreaker{})

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 {
		t.Errorf("accepted = %d, want 0", accepted)
	}
	if got := sender.sendCount(); got != 0 {
		t.Errorf("breaker open but %d sends attempted", got)
	}
	if !jobs.fired(job.ID) {
		t.Errorf("job not closed after breaker-open fan-out")
	}
}

func TestDispatch_RegistrationWithoutAddressSkipped(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()

	regs := registrations("a@example.com", "", "c@example.com")
	disp := New(jobs, newMockEventStore(event), &mockRegStore{regs: regs}, sender)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 2 {
		t.Errorf("accepted = %d, want 2", accepted)
	}
	if got := sender.sendCount(); got != 2 {
		t.Errorf("sends = %d, want 2", got)
	}
}

func TestDispatch_NoRegistrantsStillCloses(t *testing.T) {
	ctx := testutil.TestContext(t)
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()

	disp := New(jobs, newMockEventStore(event), &mockRegStore{}, sender)

	accepted, err := disp.Dispatch(ctx, fire)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if accepted != 0 {
		t.Errorf("accepted = %d, want 0", accepted)
	}
	if !jobs.fired(job.ID) {
		t.Errorf("job with zero registrants left pending")
	}
}

func TestRun_DrainsBufferedFiresOnShutdown(t *testing.T) {
	job, fire := pendingFire()

	jobs := newMockJobStore()
	jobs.put(job)
	event := testutil.Event("evt-1", "Go Meetup", time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC))
	sender := newMockSender()

	disp := New(jobs, newMockEventStore(event), &mockRegStore{regs: registrations("a@example.com")}, sender).
		WithDrainTimeout(time.Second)

	ch := make(chan domain.FireEvent, 1)
	ch <- fire

	// Context already cancelled: Run must still drain the buffered fire.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		disp.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not return after drain")
	}

	if got := sender.sendCount(); got != 1 {
		t.Errorf("buffered fire not dispatched during drain, sends = %d", got)
	}
}

func TestRender_SubjectAndBody(t *testing.T) {
	r := NewRenderer()
	event := domain.Event{
		ID:        "evt-1",
		Name:      "Go Meetup",
		Location:  "Community Hall",
		Date:      "2025-03-10",
		TimeOfDay: "10:00",
	}

	msg, err := r.Render(domain.KindOneHourBefore, event)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if msg.Subject != "Reminder: Go Meetup is 1-hour away!" {
		t.Errorf("subject = %q", msg.Subject)
	}
	for _, want := range []string{
		"🎯 Event Reminder: Go Meetup",
		"This is your 1-hour reminder!",
		"📅 Date: 2025-03-10",
		"⏰ Time: 10:00",
		"📍 Location: Community Hall",
	} {
		if !strings.Contains(msg.Body, want) {
			t.Errorf("body missing %q:\n%s", want, msg.Body)
		}
	}
}

func TestRender_EmptyFieldsShowTBD(t *testing.T) {
	r := NewRenderer()
	event := domain.Event{ID: "evt-1", Name: "Go Meetup", Date: "2025-03-10"}

	msg, err := r.Render(domain.KindOneDayBefore, event)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "⏰ Time: TBD") {
		t.Errorf("empty time not rendered as TBD:\n%s", msg.Body)
	}
	if !strings.Contains(msg.Body, "📍 Location: TBD") {
		t.Errorf("empty location not rendered as TBD:\n%s", msg.Body)
	}
}

func TestRender_UnknownKindUsesFallback(t *testing.T) {
	r := NewRenderer()
	event := domain.Event{ID: "evt-1", Name: "Go Meetup", Date: "2025-03-10"}

	msg, err := r.Render("week_before", event)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(msg.Body, "This is your week_before reminder!") {
		t.Errorf("fallback body wrong:\n%s", msg.Body)
	}
}
