package core

import (
	"context"
	"sync"
	"time"

	"github.com/jobrelay/jobrelay/job"
)

// claimCall records the arguments of one ClaimBatch invocation.
type claimCall struct {
	topic string
	limit int
}

// MockStore is a scriptable Store for poller tests. Each ClaimBatch pops
// the next queued batch; an armed error is returned once and then cleared.
type MockStore struct {
	mu         sync.Mutex
	batches    [][]job.Job
	claimErr   error
	claimCalls []claimCall
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

// QueueBatch appends a batch returned by a future ClaimBatch call.
func (m *MockStore) QueueBatch(jobs ...job.Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, jobs)
}

// FailNextClaim arms an error for the next ClaimBatch call.
func (m *MockStore) FailNextClaim(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.claimErr = err
}

// ClaimCalls returns a copy of the recorded ClaimBatch invocations.
func (m *MockStore) ClaimCalls() []claimCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]claimCall, len(m.claimCalls))
	copy(calls, m.claimCalls)
	return calls
}

func (m *MockStore) ClaimBatch(ctx context.Context, topic string, limit int) ([]job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.claimCalls = append(m.claimCalls, claimCall{topic: topic, limit: limit})

	if m.claimErr != nil {
		err := m.claimErr
		m.claimErr = nil
		return nil, err
	}
	if len(m.batches) == 0 {
		return nil, nil
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	if len(batch) > limit {
		batch = batch[:limit]
	}
	return batch, nil
}

func (m *MockStore) Start(ctx context.Context) error { return nil }
func (m *MockStore) Stop()                           {}
func (m *MockStore) Ping(ctx context.Context) error  { return nil }
func (m *MockStore) Migrate(ctx context.Context) error {
	return nil
}

func (m *MockStore) Insert(ctx context.Context, topic string, n job.Normalized) (string, error) {
	return "", nil
}

func (m *MockStore) ChangeState(ctx context.Context, id string, state job.State) (bool, error) {
	return false, nil
}

func (m *MockStore) Delete(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (m *MockStore) MergeAttributes(ctx context.Context, id string, patch map[string]any) (bool, error) {
	return false, nil
}

func (m *MockStore) SetRetryAfterSeconds(ctx context.Context, id string, seconds int) (bool, error) {
	return false, nil
}

func (m *MockStore) SetStartAfter(ctx context.Context, id string, at time.Time) (bool, error) {
	return false, nil
}

func (m *MockStore) GetDetails(ctx context.Context, id string) (*job.Detail, error) {
	return nil, nil
}
