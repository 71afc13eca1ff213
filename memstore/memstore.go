// Package memstore implements the core.Store contract entirely in memory.
// It mirrors the relational store's claim semantics (due selection,
// schedule ordering, lease expiry) under a single mutex, which makes it
// suitable for tests and for trying the library without a database. It is
// not durable and offers no cross-process exclusion.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobrelay/jobrelay/errors"
	"github.com/jobrelay/jobrelay/job"
)

type row struct {
	detail job.Detail
}

// Store is an in-memory core.Store.
type Store struct {
	mu        sync.Mutex
	connected bool
	rows      map[string]*row

	// now is swappable in tests to exercise lease expiry without sleeping.
	now func() time.Time
}

// New creates an unstarted in-memory store.
func New() *Store {
	return &Store{
		rows: make(map[string]*row),
		now:  time.Now,
	}
}

// SetNowFunc replaces the clock used for claim-eligibility checks.
func (s *Store) SetNowFunc(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Start marks the store connected. Rows survive a Stop/Start cycle, in the
// same way a relational store keeps its table across reconnects.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = true
	return nil
}

// Stop marks the store disconnected. Idempotent.
func (s *Store) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
}

// Ping reports connectivity.
func (s *Store) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.NewStoreError("ping", errors.ErrNotConnected)
	}
	return nil
}

// Migrate is a no-op; there is no schema to create.
func (s *Store) Migrate(ctx context.Context) error {
	return s.Ping(ctx)
}

// Insert stores a normalized submission with state created.
func (s *Store) Insert(ctx context.Context, topic string, n job.Normalized) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", errors.NewStoreError("insert", errors.ErrNotConnected)
	}

	id := uuid.New().String()
	retry := n.RetryAfterSeconds
	s.rows[id] = &row{detail: job.Detail{
		ID:                id,
		Topic:             topic,
		Data:              n.Data,
		Attributes:        n.Attributes,
		State:             job.StateCreated,
		StartAfter:        n.StartAfter,
		CreatedAt:         s.now(),
		RetryAfterSeconds: &retry,
	}}
	return id, nil
}

// ClaimBatch claims up to limit due jobs on topic, ordered by
// (start_after, id). Claimed jobs move to active with a fresh started_at.
func (s *Store) ClaimBatch(ctx context.Context, topic string, limit int) ([]job.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errors.NewStoreError("claim", errors.ErrNotConnected)
	}

	now := s.now()
	var due []*row
	for _, r := range s.rows {
		if r.detail.Topic == topic && s.isDue(r, now) {
			due = append(due, r)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].detail, due[j].detail
		if !a.StartAfter.Equal(b.StartAfter) {
			return a.StartAfter.Before(b.StartAfter)
		}
		return a.ID < b.ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	jobs := make([]job.Job, 0, len(due))
	for _, r := range due {
		started := now
		r.detail.State = job.StateActive
		r.detail.StartedAt = &started
		jobs = append(jobs, job.Job{
			ID:         r.detail.ID,
			Data:       r.detail.Data,
			Attributes: r.detail.Attributes,
		})
	}
	return jobs, nil
}

// isDue mirrors the relational claim predicate: never-claimed rows past
// start_after, or active rows whose lease has expired.
func (s *Store) isDue(r *row, now time.Time) bool {
	d := r.detail
	switch d.State {
	case job.StateCreated:
		return d.StartAfter.Before(now)
	case job.StateActive:
		if d.RetryAfterSeconds == nil || d.StartedAt == nil {
			return false
		}
		lease := time.Duration(*d.RetryAfterSeconds) * time.Second
		return now.Sub(*d.StartedAt) > lease
	default:
		return false
	}
}

// ChangeState overwrites the job's state.
func (s *Store) ChangeState(ctx context.Context, id string, state job.State) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, errors.NewStoreError("change state", errors.ErrNotConnected)
	}
	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	r.detail.State = state
	return true, nil
}

// MergeAttributes shallow-merges patch into the job's attributes.
func (s *Store) MergeAttributes(ctx context.Context, id string, patch map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, errors.NewStoreError("merge attributes", errors.ErrNotConnected)
	}
	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	if r.detail.Attributes == nil {
		r.detail.Attributes = map[string]any{}
	}
	for k, v := range patch {
		r.detail.Attributes[k] = v
	}
	return true, nil
}

// SetRetryAfterSeconds replaces the job's lease duration.
func (s *Store) SetRetryAfterSeconds(ctx context.Context, id string, seconds int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, errors.NewStoreError("set retry interval", errors.ErrNotConnected)
	}
	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	r.detail.RetryAfterSeconds = &seconds
	return true, nil
}

// SetStartAfter reschedules the job's eligibility instant.
func (s *Store) SetStartAfter(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, errors.NewStoreError("set start date", errors.ErrNotConnected)
	}
	r, ok := s.rows[id]
	if !ok {
		return false, nil
	}
	r.detail.StartAfter = at
	return true, nil
}

// GetDetails returns a copy of the row, or (nil, nil) when absent.
func (s *Store) GetDetails(ctx context.Context, id string) (*job.Detail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil, errors.NewStoreError("get details", errors.ErrNotConnected)
	}
	r, ok := s.rows[id]
	if !ok {
		return nil, nil
	}
	d := r.detail
	return &d, nil
}

// Delete removes the row for id.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return false, errors.NewStoreError("delete", errors.ErrNotConnected)
	}
	if _, ok := s.rows[id]; !ok {
		return false, nil
	}
	delete(s.rows, id)
	return true, nil
}
