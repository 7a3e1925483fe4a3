package postgres

// The reminder_jobs table is owned by remindd:
//
//   CREATE TABLE reminder_jobs (
//       id            TEXT PRIMARY KEY,
//       event_id      TEXT NOT NULL,
//       kind          TEXT NOT NULL,
//       trigger_time  TIMESTAMPTZ NOT NULL,
//       fired         BOOLEAN NOT NULL DEFAULT FALSE,
//       fired_at      TIMESTAMPTZ,
//       superseded_at TIMESTAMPTZ,
//       discarded     BOOLEAN NOT NULL DEFAULT FALSE,
//       created_at    TIMESTAMPTZ NOT NULL
//   );
//   CREATE INDEX reminder_jobs_pending_idx ON reminder_jobs (trigger_time)
//       WHERE NOT fired AND superseded_at IS NULL AND NOT discarded;
//   CREATE INDEX reminder_jobs_event_idx ON reminder_jobs (event_id);
//
// The events and registrations tables belong to the events application;
// remindd only ever SELECTs from them.

const queryUpsertJob = `
INSERT INTO reminder_jobs (id, event_id, kind, trigger_time, fired, fired_at, superseded_at, discarded, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
    event_id      = EXCLUDED.event_id,
    kind          = EXCLUDED.kind,
    trigger_time  = EXCLUDED.trigger_time,
    fired         = EXCLUDED.fired,
    fired_at      = EXCLUDED.fired_at,
    superseded_at = EXCLUDED.superseded_at,
    discarded     = EXCLUDED.discarded
WHERE NOT reminder_jobs.fired AND NOT reminder_jobs.discarded
`

const queryGetJob = `
SELECT id, event_id, kind, trigger_time, fired, fired_at, superseded_at, discarded, created_at
FROM reminder_jobs
WHERE id = $1
`

const queryListPending = `
SELECT id, event_id, kind, trigger_time, fired, fired_at, superseded_at, discarded, created_at
FROM reminder_jobs
WHERE trigger_time <= $1
  AND NOT fired
  AND superseded_at IS NULL
  AND NOT discarded
ORDER BY trigger_time ASC, id ASC
`

const queryListJobs = `
SELECT id, event_id, kind, trigger_time, fired, fired_at, superseded_at, discarded, created_at
FROM reminder_jobs
ORDER BY trigger_time ASC, id ASC
`

const querySupersede = `
UPDATE reminder_jobs
SET superseded_at = $2
WHERE event_id = $1
  AND NOT fired
  AND superseded_at IS NULL
  AND NOT discarded
`

const queryMarkFired = `
UPDATE reminder_jobs
SET fired = TRUE, fired_at = $2
WHERE id = $1
  AND NOT fired
`

const queryJobExists = `
SELECT 1 FROM reminder_jobs WHERE id = $1
`

const queryPurgeBefore = `
DELETE FROM reminder_jobs
WHERE trigger_time < $1
  AND (fired OR superseded_at IS NOT NULL OR discarded)
`

const queryGetEvent = `
SELECT id, name, description, location, date, time_of_day, capacity, registered, created_at
FROM events
WHERE id = $1
`

const queryListEvents = `
SELECT id, name, description, location, date, time_of_day, capacity, registered, created_at
FROM events
ORDER BY id
`

const queryListRegistrationsByEvent = `
SELECT id, event_id, name, email, phone, created_at
FROM registrations
WHERE event_id = $1
ORDER BY created_at ASC, id ASC
`
