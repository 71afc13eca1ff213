package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jobrelay/jobrelay/job"
)

// Poller repeatedly claims due jobs for a single topic and dispatches each
// one to the registered handler. Claim failures are surfaced through the
// error callback and never stop the polling loop; handler dispatch is
// fire-and-forget so a slow handler cannot delay the next claim.
type Poller struct {
	store     Store
	topic     string
	maxJobs   int
	heartbeat time.Duration
	handler   job.Handler
	onError   ErrorFunc
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewPoller creates a poller for cfg.Topic. cfg is normalized; the caller
// is expected to have validated it already.
func NewPoller(store Store, cfg job.ReceiveConfig, handler job.Handler, onError ErrorFunc, logger *slog.Logger) *Poller {
	cfg = cfg.Normalize()
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		store:     store,
		topic:     cfg.Topic,
		maxJobs:   cfg.MaxJobs,
		heartbeat: cfg.Heartbeat,
		handler:   handler,
		onError:   onError,
		logger:    logger,
	}
}

// Topic returns the topic this poller serves.
func (p *Poller) Topic() string { return p.topic }

// Running reports whether the poller is currently scheduled.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Start schedules the polling loop. The first claim happens one heartbeat
// after Start. Idempotent.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stop = make(chan struct{})

	p.wg.Add(1)
	go p.loop(ctx, p.stop)

	p.logger.Info("poller started",
		"topic", p.topic, "max_jobs", p.maxJobs, "heartbeat", p.heartbeat)
}

// Stop cancels the pending poll and clears the running flag. An in-flight
// claim is not interrupted, but its rows are discarded before dispatch once
// Stop has been observed. Idempotent.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	close(p.stop)
	p.running = false
	p.logger.Info("poller stopped", "topic", p.topic)
}

// loop ticks every heartbeat until ctx is cancelled or Stop is called.
// time.Ticker gives fixed-delay rescheduling relative to the start of each
// cycle; a claim that overruns the interval simply coalesces ticks.
func (p *Poller) loop(ctx context.Context, stop <-chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			p.pollOnce(ctx, stop)
		}
	}
}

// pollOnce claims one batch and dispatches every returned job. The stop
// channel is re-checked before each dispatch so rows claimed by a poll that
// raced with Stop are not handed to the handler.
func (p *Poller) pollOnce(ctx context.Context, stop <-chan struct{}) {
	jobs, err := p.store.ClaimBatch(ctx, p.topic, p.maxJobs)
	if err != nil {
		p.logger.Error("claim batch failed", "topic", p.topic, "error", err)
		p.onError(err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	p.logger.Debug("claimed jobs", "topic", p.topic, "count", len(jobs))

	for _, j := range jobs {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}

		p.wg.Add(1)
		go p.dispatch(j)
	}
}

// dispatch invokes the handler with panic recovery. A panicking handler is
// reported through the error callback and leaves the job leased; it will be
// redelivered when its lease expires.
func (p *Poller) dispatch(j job.Job) {
	defer p.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			p.onError(fmt.Errorf("handler panic on topic %s for job %s: %v", p.topic, j.ID, r))
		}
	}()

	p.handler(j)
}
