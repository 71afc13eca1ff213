package store

import (
	"context"
	stderrors "errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jobrelay/jobrelay/errors"
	"github.com/jobrelay/jobrelay/job"
)

// claimSQL atomically selects, locks, and activates up to $2 due jobs for
// topic $1 in a single statement.
//
// A job is due when it has never been claimed and its start_after has
// passed, or when it is active with an expired lease. FOR UPDATE SKIP
// LOCKED means claimers racing for the same batch skip each other's rows
// instead of blocking, so any number of pollers and processes can drain one
// topic without contention stalls or duplicate delivery. The
// (start_after, id) ordering gives approximate FIFO-by-schedule across the
// consumer pool.
const claimSQL = `
WITH due AS (
    SELECT id FROM jobs
    WHERE topic = $1
      AND (
           (state = 'created' AND start_after < now())
        OR (state = 'active'
            AND retry_after_seconds IS NOT NULL
            AND started_at < now() - make_interval(secs => retry_after_seconds))
      )
    ORDER BY start_after ASC, id ASC
    LIMIT $2
    FOR UPDATE SKIP LOCKED
)
UPDATE jobs
SET state = 'active', started_at = now()
FROM due
WHERE jobs.id = due.id
RETURNING jobs.id, jobs.data, jobs.attributes`

// detailColumns is the column order scanned by GetDetails.
var detailColumns = []string{
	"id", "topic", "data", "attributes", "state",
	"start_after", "started_at", "created_at", "retry_after_seconds",
}

// Insert persists a normalized submission with state created and returns
// the generated job id.
func (s *Store) Insert(ctx context.Context, topic string, n job.Normalized) (string, error) {
	pool, err := s.db()
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	query, args, err := psql.Insert("jobs").
		Columns("id", "topic", "data", "attributes", "state", "start_after", "retry_after_seconds").
		Values(id, topic, n.Data, n.Attributes, job.StateCreated, n.StartAfter, n.RetryAfterSeconds).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return "", errors.NewStoreError("insert", err)
	}

	if err := pool.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return "", errors.NewStoreError("insert", err)
	}
	return id, nil
}

// ClaimBatch claims up to limit due jobs on topic. Every returned job is
// now leased to the caller: state active, started_at refreshed. Returns an
// empty slice when nothing is due.
func (s *Store) ClaimBatch(ctx context.Context, topic string, limit int) ([]job.Job, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, claimSQL, topic, limit)
	if err != nil {
		return nil, errors.NewStoreError("claim", err)
	}
	defer rows.Close()

	var jobs []job.Job
	for rows.Next() {
		var j job.Job
		if err := rows.Scan(&j.ID, &j.Data, &j.Attributes); err != nil {
			return nil, errors.NewStoreError("claim", err)
		}
		if j.Attributes == nil {
			j.Attributes = map[string]any{}
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStoreError("claim", err)
	}
	return jobs, nil
}

// ChangeState overwrites the state of the identified job. Reports whether a
// row matched.
func (s *Store) ChangeState(ctx context.Context, id string, state job.State) (bool, error) {
	return s.update(ctx, "change state", id, psql.Update("jobs").Set("state", state))
}

// MergeAttributes shallow-merges patch into the job's attributes: new keys
// overwrite, existing keys are preserved. Reports whether a row matched.
func (s *Store) MergeAttributes(ctx context.Context, id string, patch map[string]any) (bool, error) {
	return s.update(ctx, "merge attributes", id,
		psql.Update("jobs").Set("attributes", sq.Expr("coalesce(attributes, '{}'::jsonb) || ?", patch)))
}

// SetRetryAfterSeconds replaces the job's lease duration. Reports whether a
// row matched.
func (s *Store) SetRetryAfterSeconds(ctx context.Context, id string, seconds int) (bool, error) {
	return s.update(ctx, "set retry interval", id, psql.Update("jobs").Set("retry_after_seconds", seconds))
}

// SetStartAfter reschedules the job's eligibility instant. Reports whether
// a row matched.
func (s *Store) SetStartAfter(ctx context.Context, id string, at time.Time) (bool, error) {
	return s.update(ctx, "set start date", id, psql.Update("jobs").Set("start_after", at))
}

// GetDetails fetches the full row for id. Returns (nil, nil) when no row
// exists; absence is a result, not an error.
func (s *Store) GetDetails(ctx context.Context, id string) (*job.Detail, error) {
	pool, err := s.db()
	if err != nil {
		return nil, err
	}
	uid, ok := parseID(id)
	if !ok {
		return nil, nil
	}

	query, args, err := psql.Select(detailColumns...).
		From("jobs").
		Where(sq.Eq{"id": uid}).
		ToSql()
	if err != nil {
		return nil, errors.NewStoreError("get details", err)
	}

	var d job.Detail
	err = pool.QueryRow(ctx, query, args...).Scan(
		&d.ID, &d.Topic, &d.Data, &d.Attributes, &d.State,
		&d.StartAfter, &d.StartedAt, &d.CreatedAt, &d.RetryAfterSeconds,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, errors.NewStoreError("get details", err)
	}
	return &d, nil
}

// Delete removes the row for id. Reports whether a row matched.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	uid, ok := parseID(id)
	if !ok {
		return false, nil
	}

	query, args, err := psql.Delete("jobs").Where(sq.Eq{"id": uid}).ToSql()
	if err != nil {
		return false, errors.NewStoreError("delete", err)
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return false, errors.NewStoreError("delete", err)
	}
	return tag.RowsAffected() > 0, nil
}

// update executes a single-row UPDATE builder scoped to id and reports
// whether a row matched.
func (s *Store) update(ctx context.Context, op, id string, b sq.UpdateBuilder) (bool, error) {
	pool, err := s.db()
	if err != nil {
		return false, err
	}
	uid, ok := parseID(id)
	if !ok {
		return false, nil
	}

	query, args, err := b.Where(sq.Eq{"id": uid}).ToSql()
	if err != nil {
		return false, errors.NewStoreError(op, err)
	}

	tag, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return false, errors.NewStoreError(op, err)
	}
	return tag.RowsAffected() > 0, nil
}

// parseID validates a caller-supplied job id. A malformed id can never
// match a row, so it is reported as not-found rather than as a store error.
func parseID(id string) (uuid.UUID, bool) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return uuid.UUID{}, false
	}
	return uid, true
}
