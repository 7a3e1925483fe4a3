package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Tannybot/remindd/internal/dispatcher"
	"github.com/Tannybot/remindd/internal/domain"
	"github.com/Tannybot/remindd/internal/janitor"
	"github.com/Tannybot/remindd/internal/scheduler"
)

// Store implements the job store plus the read-only event and registration
// views over PostgreSQL. The reminder_jobs table is ours; events and
// registrations belong to the events application and are never written.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
}

// New creates a PostgreSQL store. opTimeout bounds every single operation;
// zero means no per-operation timeout.
func New(db *sql.DB, opTimeout time.Duration) *Store {
	return &Store{db: db, opTimeout: opTimeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// UpsertJob inserts or overwrites a reminder job. Safe to call redundantly
// with identical data. Rows already fired or discarded are never overwritten;
// the guard lives in the upsert's WHERE clause so the fired flag stays
// monotonic even when a concurrent MarkFired lands mid-reschedule.
func (s *Store) UpsertJob(ctx context.Context, job domain.ReminderJob) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, queryUpsertJob,
		job.ID,
		job.EventID,
		string(job.Kind),
		job.TriggerTime,
		job.Fired,
		job.FiredAt,
		job.SupersededAt,
		job.Discarded,
		job.CreatedAt,
	)
	return err
}

// GetJob returns a job by ID, or scheduler.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (domain.ReminderJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	job, err := scanJob(s.db.QueryRowContext(ctx, queryGetJob, jobID))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ReminderJob{}, scheduler.ErrJobNotFound
	}
	return job, err
}

// ListPending returns all unfired, unsuperseded, undiscarded jobs due at or
// before asOf, ordered by trigger time then job ID.
func (s *Store) ListPending(ctx context.Context, asOf time.Time) ([]domain.ReminderJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListPending, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// ListJobs returns every job, for schedule introspection.
func (s *Store) ListJobs(ctx context.Context) ([]domain.ReminderJob, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListJobs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanJobs(rows)
}

// Supersede marks every active job for the event as superseded and returns
// how many rows changed. A single atomic UPDATE keeps the sequence consistent
// with a concurrent ListPending.
func (s *Store) Supersede(ctx context.Context, eventID string, at time.Time) (int, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, querySupersede, eventID, at)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	return int(n), err
}

// MarkFired transitions fired false->true. Returns dispatcher.ErrAlreadyFired
// when the flag was already set; the guard lives in the UPDATE's WHERE clause
// so concurrent callers serialize on the row lock.
func (s *Store) MarkFired(ctx context.Context, jobID string, at time.Time) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryMarkFired, jobID, at)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected > 0 {
		return nil
	}

	// Either the job does not exist or it was already fired.
	var one int
	err = s.db.QueryRowContext(ctx, queryJobExists, jobID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return scheduler.ErrJobNotFound
	}
	if err != nil {
		return err
	}
	return dispatcher.ErrAlreadyFired
}

// PurgeBefore deletes terminal jobs whose trigger time is older than cutoff.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	result, err := s.db.ExecContext(ctx, queryPurgeBefore, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// GetEvent returns one event record, or dispatcher.ErrEventNotFound.
func (s *Store) GetEvent(ctx context.Context, eventID string) (domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var event domain.Event
	err := s.db.QueryRowContext(ctx, queryGetEvent, eventID).Scan(
		&event.ID,
		&event.Name,
		&event.Description,
		&event.Location,
		&event.Date,
		&event.TimeOfDay,
		&event.Capacity,
		&event.Registered,
		&event.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Event{}, dispatcher.ErrEventNotFound
	}
	if err != nil {
		return domain.Event{}, err
	}
	return event, nil
}

// ListEvents returns every event record, used at startup reconciliation.
func (s *Store) ListEvents(ctx context.Context) ([]domain.Event, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEvents)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Event
	for rows.Next() {
		var event domain.Event
		err := rows.Scan(
			&event.ID,
			&event.Name,
			&event.Description,
			&event.Location,
			&event.Date,
			&event.TimeOfDay,
			&event.Capacity,
			&event.Registered,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByEvent returns all registrations for an event.
func (s *Store) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListRegistrationsByEvent, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Registration
	for rows.Next() {
		var reg domain.Registration
		err := rows.Scan(
			&reg.ID,
			&reg.EventID,
			&reg.Name,
			&reg.Email,
			&reg.Phone,
			&reg.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, reg)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanJob(row *sql.Row) (domain.ReminderJob, error) {
	var job domain.ReminderJob
	var kind string
	err := row.Scan(
		&job.ID,
		&job.EventID,
		&kind,
		&job.TriggerTime,
		&job.Fired,
		&job.FiredAt,
		&job.SupersededAt,
		&job.Discarded,
		&job.CreatedAt,
	)
	if err != nil {
		return domain.ReminderJob{}, err
	}
	job.Kind = domain.ReminderKind(kind)
	return job, nil
}

func scanJobs(rows *sql.Rows) ([]domain.ReminderJob, error) {
	var result []domain.ReminderJob
	for rows.Next() {
		var job domain.ReminderJob
		var kind string
		err := rows.Scan(
			&job.ID,
			&job.EventID,
			&kind,
			&job.TriggerTime,
			&job.Fired,
			&job.FiredAt,
			&job.SupersededAt,
			&job.Discarded,
			&job.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		job.Kind = domain.ReminderKind(kind)
		result = append(result, job)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Compile-time interface assertions
var (
	_ scheduler.Store              = (*Store)(nil)
	_ scheduler.EventStore         = (*Store)(nil)
	_ dispatcher.JobStore          = (*Store)(nil)
	_ dispatcher.EventStore        = (*Store)(nil)
	_ dispatcher.RegistrationStore = (*Store)(nil)
	_ janitor.Store                = (*Store)(nil)
)
