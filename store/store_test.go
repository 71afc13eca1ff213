package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/jobrelay/jobrelay/errors"
	"github.com/jobrelay/jobrelay/job"
)

// One Postgres container is shared by the whole package; each test migrates
// into its own schema so tests stay isolated and parallelizable. The
// testcontainers reaper tears the container down after the run.
var (
	containerOnce sync.Once
	containerConn string
	containerErr  error
	schemaSeq     int64
)

func testConnString(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		ctr, err := tcpostgres.Run(ctx,
			"postgres:18-alpine",
			tcpostgres.WithDatabase("jobrelay_test"),
			tcpostgres.WithUsername("jobrelay_test"),
			tcpostgres.WithPassword("testpassword"),
			tcpostgres.BasicWaitStrategies(),
		)
		if err != nil {
			containerErr = fmt.Errorf("start postgres container: %w", err)
			return
		}
		containerConn, containerErr = ctr.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Fatal(containerErr)
	}
	return containerConn
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn := testConnString(t)
	schema := fmt.Sprintf("q_%d", atomic.AddInt64(&schemaSeq, 1))

	s, err := New(Options{ConnString: conn, Schema: schema})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	t.Cleanup(s.Stop)
	require.NoError(t, s.Migrate(ctx))
	return s
}

func insertJob(t *testing.T, s *Store, topic string, startAfter time.Time, retry int) string {
	t.Helper()
	id, err := s.Insert(context.Background(), topic, job.Normalized{
		Data:              map[string]any{"k": "v"},
		Attributes:        map[string]any{},
		StartAfter:        startAfter,
		RetryAfterSeconds: retry,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func TestStore_New_Validation(t *testing.T) {
	_, err := New(Options{Schema: "q"})
	assert.Error(t, err)

	_, err = New(Options{ConnString: "postgres://x", Schema: "Bad-Schema"})
	assert.Error(t, err)

	_, err = New(Options{ConnString: "postgres://x", Schema: `q"; drop table jobs;`})
	assert.Error(t, err)

	s, err := New(Options{ConnString: "postgres://x"})
	require.NoError(t, err)
	assert.Equal(t, DefaultSchema, s.Schema())
}

func TestStore_OperationsRequireStart(t *testing.T) {
	s, err := New(Options{ConnString: "postgres://localhost/none"})
	require.NoError(t, err)

	err = s.Ping(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotConnected)
	assert.True(t, errors.IsStoreError(err))

	_, err = s.ClaimBatch(context.Background(), "t", 1)
	assert.ErrorIs(t, err, errors.ErrNotConnected)

	// Stop without Start is a no-op.
	s.Stop()
	s.Stop()
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Ping(context.Background()))
}

func TestStore_InsertAndGetDetails(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	startAfter := time.Now().Add(time.Hour).UTC()

	id, err := s.Insert(ctx, "emails", job.Normalized{
		Data:              map[string]any{"to": "a@b.c"},
		Attributes:        map[string]any{"tries": float64(0)},
		StartAfter:        startAfter,
		RetryAfterSeconds: 45,
	})
	require.NoError(t, err)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, id, d.ID)
	assert.Equal(t, "emails", d.Topic)
	assert.Equal(t, job.StateCreated, d.State)
	assert.Equal(t, map[string]any{"to": "a@b.c"}, d.Data)
	assert.Equal(t, map[string]any{"tries": float64(0)}, d.Attributes)
	assert.WithinDuration(t, startAfter, d.StartAfter, time.Second)
	assert.Nil(t, d.StartedAt)
	assert.False(t, d.CreatedAt.IsZero())
	require.NotNil(t, d.RetryAfterSeconds)
	assert.Equal(t, 45, *d.RetryAfterSeconds)
}

func TestStore_GetDetails_Absent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.GetDetails(ctx, "0b8e9f1c-33d1-4b44-9fb5-111111111111")
	require.NoError(t, err)
	assert.Nil(t, d)

	// A malformed id can never match a row.
	d, err = s.GetDetails(ctx, "not-a-uuid")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestStore_ClaimBatch_OrderAndLimit(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	late := insertJob(t, s, "t", now.Add(-time.Second), 30)
	early := insertJob(t, s, "t", now.Add(-time.Minute), 30)
	insertJob(t, s, "t", now.Add(time.Hour), 30) // not due
	insertJob(t, s, "other", now.Add(-time.Minute), 30)

	jobs, err := s.ClaimBatch(ctx, "t", 1)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, early, jobs[0].ID)
	assert.Equal(t, map[string]any{"k": "v"}, jobs[0].Data)

	jobs, err = s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, late, jobs[0].ID)

	// Everything due is now leased.
	jobs, err = s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStore_ClaimBatch_MarksRowsActive(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now().Add(-time.Second), 30)

	jobs, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, job.StateActive, d.State)
	assert.NotNil(t, d.StartedAt)
}

func TestStore_ClaimBatch_ConcurrentClaimersNeverShareRows(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		insertJob(t, s, "t", time.Now().Add(-time.Second), 3600)
	}

	const claimers = 8
	var mu sync.Mutex
	seen := make(map[string]int)

	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				batch, err := s.ClaimBatch(ctx, "t", 3)
				assert.NoError(t, err)
				if len(batch) == 0 {
					return
				}
				mu.Lock()
				for _, j := range batch {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobs)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func TestStore_ClaimBatch_LeaseExpiryRedelivers(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now().Add(-time.Second), 1)

	first, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Inside the lease the active row is invisible to claimers.
	mid, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Empty(t, mid)

	time.Sleep(1200 * time.Millisecond)

	again, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, id, again[0].ID)
}

func TestStore_ClaimBatch_TerminalStatesNeverClaimed(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	due := time.Now().Add(-time.Second)

	for _, state := range []job.State{job.StateProcessing, job.StateCompleted, job.StateFailed} {
		id := insertJob(t, s, "t", due, 0)
		matched, err := s.ChangeState(ctx, id, state)
		require.NoError(t, err)
		require.True(t, matched)
	}

	jobs, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestStore_ChangeState(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now(), 30)

	matched, err := s.ChangeState(ctx, id, job.StateCompleted)
	require.NoError(t, err)
	assert.True(t, matched)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, job.StateCompleted, d.State)

	matched, err = s.ChangeState(ctx, "0b8e9f1c-33d1-4b44-9fb5-111111111111", job.StateCompleted)
	require.NoError(t, err)
	assert.False(t, matched)

	matched, err = s.ChangeState(ctx, "not-a-uuid", job.StateCompleted)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestStore_MergeAttributes(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Insert(ctx, "t", job.Normalized{
		Data:              map[string]any{},
		Attributes:        map[string]any{"a": float64(1), "b": "old"},
		StartAfter:        time.Now(),
		RetryAfterSeconds: 30,
	})
	require.NoError(t, err)

	matched, err := s.MergeAttributes(ctx, id, map[string]any{"b": "new", "c": true})
	require.NoError(t, err)
	require.True(t, matched)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, map[string]any{"a": float64(1), "b": "new", "c": true}, d.Attributes)
}

func TestStore_SetRetryAfterSeconds(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now(), 30)

	matched, err := s.SetRetryAfterSeconds(ctx, id, 600)
	require.NoError(t, err)
	require.True(t, matched)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NotNil(t, d.RetryAfterSeconds)
	assert.Equal(t, 600, *d.RetryAfterSeconds)
}

func TestStore_SetStartAfterReschedules(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now().Add(time.Hour), 30)

	jobs, err := s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	require.Empty(t, jobs)

	matched, err := s.SetStartAfter(ctx, id, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.True(t, matched)

	jobs, err = s.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()

	id := insertJob(t, s, "t", time.Now(), 30)

	matched, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, matched)

	d, err := s.GetDetails(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, d)

	matched, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestStore_TwoSchemasAreIndependent(t *testing.T) {
	t.Parallel()
	a := newTestStore(t)
	b := newTestStore(t)
	ctx := context.Background()

	insertJob(t, a, "t", time.Now().Add(-time.Second), 30)

	jobs, err := b.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = a.ClaimBatch(ctx, "t", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestStore_StopThenOperate(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	s.Stop()
	s.Stop()

	_, err := s.Insert(context.Background(), "t", job.Normalized{
		Data:       map[string]any{},
		Attributes: map[string]any{},
		StartAfter: time.Now(),
	})
	assert.ErrorIs(t, err, errors.ErrNotConnected)
}
