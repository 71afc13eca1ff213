package jobrelay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrelay/jobrelay/core"
	"github.com/jobrelay/jobrelay/errors"
	"github.com/jobrelay/jobrelay/job"
	"github.com/jobrelay/jobrelay/store"
)

// Queue is a durable, multi-consumer work queue backed by a relational
// store. Producers enqueue jobs tagged with a topic and a not-before time;
// per-topic pollers claim due jobs exclusively and dispatch them to
// handlers. Cross-process mutual exclusion is delegated entirely to the
// store's row-locking claim statement, so any number of Queue instances may
// share one database.
//
// Public operations do not return errors. Failures are observable through
// sentinel return values ("" / false / nil) and the error subscription
// (OnError), which keeps transient store trouble from crashing a
// long-running host process.
type Queue struct {
	store  core.Store
	logger *slog.Logger

	mu      sync.Mutex
	pollers map[string]*core.Poller
	subs    []func(error)
	started bool
	pollCtx context.Context
	cancel  context.CancelFunc
}

// New creates a queue from cfg. The store connection is not opened until
// Start.
func New(cfg Config, opts ...Option) (*Queue, error) {
	q := &Queue{
		logger:  slog.Default(),
		pollers: make(map[string]*core.Poller),
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.store == nil {
		st, err := store.New(cfg.storeOptions())
		if err != nil {
			return nil, err
		}
		q.store = st
	}
	return q, nil
}

// OnError subscribes fn to the queue's error signal. The queue emits store
// connectivity failures, rejected submissions and subscriptions, and
// handler panics. Fan-out is synchronous and in subscription order; with no
// subscribers, emissions are dropped. Shutdown detaches all subscribers.
func (q *Queue) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.subs = append(q.subs, fn)
}

// emit fans an error out to current subscribers. Subscribers run outside
// the queue lock so they may call back into the queue.
func (q *Queue) emit(err error) {
	q.mu.Lock()
	subs := make([]func(error), len(q.subs))
	copy(subs, q.subs)
	q.mu.Unlock()

	for _, fn := range subs {
		fn(err)
	}
}

// Start acquires the store and starts every registered poller. With
// withMigration true the schema is created or updated idempotently first;
// otherwise a liveness ping runs in its place. On failure the error is
// emitted, the store is released, and the queue stays unstarted; Start may
// be retried.
func (q *Queue) Start(ctx context.Context, withMigration bool) error {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return nil
	}

	if err := q.startStore(ctx, withMigration); err != nil {
		q.store.Stop()
		q.mu.Unlock()
		q.logger.Error("queue start failed", "error", err)
		q.emit(err)
		return err
	}

	q.pollCtx, q.cancel = context.WithCancel(ctx)
	for _, p := range q.pollers {
		p.Start(q.pollCtx)
	}
	q.started = true
	n := len(q.pollers)
	q.mu.Unlock()

	q.logger.Info("queue started", "pollers", n, "migrated", withMigration)
	return nil
}

// startStore opens the pool and verifies it via migration or ping.
func (q *Queue) startStore(ctx context.Context, withMigration bool) error {
	if err := q.store.Start(ctx); err != nil {
		return err
	}
	if withMigration {
		return q.store.Migrate(ctx)
	}
	return q.store.Ping(ctx)
}

// Shutdown stops the store and every poller, detaches error subscribers,
// and marks the queue unstarted. Idempotent; the queue may be started
// again afterwards.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.store.Stop()
	for _, p := range q.pollers {
		p.Stop()
	}
	if q.cancel != nil {
		q.cancel()
		q.cancel = nil
	}
	q.subs = nil
	if q.started {
		q.logger.Info("queue shut down")
	}
	q.started = false
}

// AddJob normalizes and persists a submission on topic, returning the new
// job id. Returns "" before Start, on a rejected submission, or on a store
// failure; rejections and failures are emitted on the error signal.
func (q *Queue) AddJob(ctx context.Context, topic string, cfg job.Config) string {
	if !q.ready("add job") {
		return ""
	}

	n, err := cfg.Normalize(time.Now())
	if err != nil {
		q.logger.Error("job rejected", "topic", topic, "error", err)
		q.emit(err)
		return ""
	}

	id, err := q.store.Insert(ctx, topic, n)
	if err != nil {
		q.logger.Error("add job failed", "topic", topic, "error", err)
		q.emit(err)
		return ""
	}
	return id
}

// ReceiveJobs registers handler for cfg.Topic and begins polling once the
// queue is started. A subscription for a topic replaces any previous one.
// Invalid subscriptions are emitted on the error signal and register
// nothing.
func (q *Queue) ReceiveJobs(cfg job.ReceiveConfig, handler job.Handler) {
	if err := job.ValidateSubscription(cfg, handler); err != nil {
		q.logger.Error("subscription rejected", "topic", cfg.Topic, "error", err)
		q.emit(err)
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if prev, ok := q.pollers[cfg.Topic]; ok {
		prev.Stop()
	}
	p := core.NewPoller(q.store, cfg, handler, q.emit, q.logger)
	q.pollers[cfg.Topic] = p
	if q.started {
		p.Start(q.pollCtx)
	}
}

// MoveJobToProcessing transitions the job to the processing state.
func (q *Queue) MoveJobToProcessing(ctx context.Context, id string) bool {
	return q.changeState(ctx, id, job.StateProcessing)
}

// MoveJobToDone transitions the job to completed, or deletes the row
// outright when deleteOnComplete is set.
func (q *Queue) MoveJobToDone(ctx context.Context, id string, deleteOnComplete bool) bool {
	if deleteOnComplete {
		return q.DeleteJob(ctx, id)
	}
	return q.changeState(ctx, id, job.StateCompleted)
}

// MoveJobToFailed transitions the job to failed, or deletes the row
// outright when deleteOnFail is set.
func (q *Queue) MoveJobToFailed(ctx context.Context, id string, deleteOnFail bool) bool {
	if deleteOnFail {
		return q.DeleteJob(ctx, id)
	}
	return q.changeState(ctx, id, job.StateFailed)
}

// DeleteJob hard-removes the job row. Deletion is terminal and
// irreversible; a subsequent GetJob returns nil.
func (q *Queue) DeleteJob(ctx context.Context, id string) bool {
	if !q.ready("delete job") {
		return false
	}
	matched, err := q.store.Delete(ctx, id)
	return q.reportMatch("delete job", id, matched, err)
}

// GetJob fetches the full persisted row for id. Returns nil before Start,
// when no row exists, or on a store failure.
func (q *Queue) GetJob(ctx context.Context, id string) *job.Detail {
	if !q.ready("get job") {
		return nil
	}
	d, err := q.store.GetDetails(ctx, id)
	if err != nil {
		q.logger.Error("get job failed", "job_id", id, "error", err)
		q.emit(err)
		return nil
	}
	return d
}

// SetAttributes shallow-merges patch into the job's attributes: new keys
// overwrite, existing keys are preserved.
func (q *Queue) SetAttributes(ctx context.Context, id string, patch map[string]any) bool {
	if !q.ready("set attributes") {
		return false
	}
	matched, err := q.store.MergeAttributes(ctx, id, patch)
	return q.reportMatch("set attributes", id, matched, err)
}

// SetRetryAfterSeconds replaces the job's lease duration.
func (q *Queue) SetRetryAfterSeconds(ctx context.Context, id string, seconds int) bool {
	if !q.ready("set retry interval") {
		return false
	}
	matched, err := q.store.SetRetryAfterSeconds(ctx, id, seconds)
	return q.reportMatch("set retry interval", id, matched, err)
}

// SetJobStartDate reschedules the job's eligibility instant.
func (q *Queue) SetJobStartDate(ctx context.Context, id string, at time.Time) bool {
	if !q.ready("set start date") {
		return false
	}
	matched, err := q.store.SetStartAfter(ctx, id, at)
	return q.reportMatch("set start date", id, matched, err)
}

func (q *Queue) changeState(ctx context.Context, id string, state job.State) bool {
	if !q.ready("change state") {
		return false
	}
	matched, err := q.store.ChangeState(ctx, id, state)
	return q.reportMatch("change state", id, matched, err)
}

// reportMatch collapses a (matched, err) store result into the boolean
// contract: store failures are logged and emitted, a missing row is just
// false.
func (q *Queue) reportMatch(op, id string, matched bool, err error) bool {
	if err != nil {
		q.logger.Error(op+" failed", "job_id", id, "error", err)
		q.emit(err)
		return false
	}
	return matched
}

// ready reports whether the queue is started. Calls arriving before Start
// or after Shutdown are neutralized by their callers; they are logged here
// but deliberately not emitted on the error signal.
func (q *Queue) ready(op string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.started {
		q.logger.Debug(op+" ignored", "error", errors.ErrNotStarted)
		return false
	}
	return true
}
