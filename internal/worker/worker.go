// Package worker implements the poll/claim/execute loop: the process that
// drains the job queue under lease-based mutual exclusion.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/jobqueue"
	"github.com/eykd/companion-memory/internal/metrics"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	"github.com/eykd/companion-memory/internal/pkg/utils"
)

// reportPayloadMaxLen caps the payload bytes attached to an ErrorReporter
// call; a malformed or oversized job payload should not blow up the
// tracker's event size limits.
const reportPayloadMaxLen = 2000

// Config tunes a Worker's loop; zero values fall back to the documented
// defaults via WithDefaults.
type Config struct {
	PollInterval    time.Duration
	BatchLimit      int
	Lease           time.Duration
	Concurrency     int
	GracefulTimeout time.Duration
}

// WithDefaults fills any zero field with the documented default.
func (c Config) WithDefaults() Config {
	if c.PollInterval == 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchLimit == 0 {
		c.BatchLimit = 25
	}
	if c.Lease == 0 {
		c.Lease = 60 * time.Second
	}
	if c.Concurrency == 0 {
		c.Concurrency = 8
	}
	if c.GracefulTimeout == 0 {
		c.GracefulTimeout = 30 * time.Second
	}
	return c
}

// Worker polls a jobqueue.Store for due jobs, claims them under lease, and
// hands them to a dispatch.Dispatcher. One poll-loop goroutine per process;
// handler execution fans out to up to Config.Concurrency goroutines.
type Worker struct {
	id         string
	store      jobqueue.Store
	retry      jobqueue.RetryPolicy
	dispatcher *dispatch.Dispatcher
	hctx       *dispatch.Context
	reporter   dispatch.ErrorReporter
	clock      clock.Clock
	logger     logs.Logger
	cfg        Config
	metrics    *metrics.Collectors

	sem chan struct{}
	wg  sync.WaitGroup
}

// SetMetrics attaches Prometheus collectors the Worker reports claims,
// completions, retries, and dead-letters against. Optional: a Worker with
// no collectors attached simply skips reporting.
func (w *Worker) SetMetrics(m *metrics.Collectors) {
	w.metrics = m
}

// New constructs a Worker. id should be unique per process (e.g.
// hostname+pid); it is written as locked_by on claimed jobs.
func New(id string, store jobqueue.Store, retry jobqueue.RetryPolicy, dispatcher *dispatch.Dispatcher, hctx *dispatch.Context, reporter dispatch.ErrorReporter, c clock.Clock, logger logs.Logger, cfg Config) *Worker {
	cfg = cfg.WithDefaults()
	return &Worker{
		id:         id,
		store:      store,
		retry:      retry,
		dispatcher: dispatcher,
		hctx:       hctx,
		reporter:   reporter,
		clock:      c,
		logger:     logger,
		cfg:        cfg,
		sem:        make(chan struct{}, cfg.Concurrency),
	}
}

// Run drives the poll loop until ctx is cancelled, then waits up to
// GracefulTimeout for in-flight handlers before returning. Handlers still
// running past the timeout are abandoned; their lease will expire and
// another worker will reclaim the job.
func (w *Worker) Run(ctx context.Context) {
	ticker := w.clock.After(w.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker:
			w.pollOnce(ctx)
			ticker = w.clock.After(w.cfg.PollInterval)
		}
	}
}

// Wait blocks until every in-flight handler this Worker launched has
// returned. Used by tests and by callers that want a deterministic drain
// point outside of Run's own ctx-driven shutdown.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.cfg.GracefulTimeout):
		if w.logger != nil {
			w.logger.Warn("worker %s: graceful timeout elapsed with handlers still running", w.id)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	now := w.clock.Now()
	due, err := w.store.QueryDue(ctx, now, w.cfg.BatchLimit)
	if err != nil {
		if w.logger != nil {
			w.logger.CtxError(ctx, "worker %s: QueryDue failed: %v", w.id, err)
		}
		return
	}
	w.metrics.ObserveQueueDepth(len(due))

	for _, job := range due {
		outcome, err := w.store.Claim(ctx, job.JobID, w.id, now, w.cfg.Lease)
		if err != nil {
			if w.logger != nil {
				w.logger.CtxError(ctx, "worker %s: Claim(%s) failed: %v", w.id, job.JobID, err)
			}
			continue
		}
		if outcome != jobqueue.ClaimWon {
			continue
		}
		w.metrics.ObserveClaim()

		job.Attempts++ // Claim increments attempts in the store; mirror it here
		w.launch(ctx, job)
	}
}

func (w *Worker) launch(ctx context.Context, job jobqueue.JobRecord) {
	select {
	case w.sem <- struct{}{}:
	case <-ctx.Done():
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.sem }()
		w.execute(ctx, job)
	}()
}

func (w *Worker) execute(ctx context.Context, job jobqueue.JobRecord) {
	leaseCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	renewDone := make(chan struct{})
	go w.renewLease(leaseCtx, job, renewDone)
	defer func() {
		cancel()
		<-renewDone
	}()

	outcome := w.dispatcher.Dispatch(ctx, w.hctx, job.JobType, job.Payload)
	w.finalize(ctx, job, outcome)
}

func (w *Worker) renewLease(ctx context.Context, job jobqueue.JobRecord, done chan<- struct{}) {
	defer close(done)

	interval := w.cfg.Lease / 2
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.clock.After(interval):
		}

		outcome, err := w.store.RenewLease(ctx, job.JobID, w.id, w.clock.Now(), w.cfg.Lease)
		if err != nil {
			if w.logger != nil {
				w.logger.CtxError(ctx, "worker %s: RenewLease(%s) failed: %v", w.id, job.JobID, err)
			}
			return
		}
		if outcome == jobqueue.RenewLost {
			if w.logger != nil {
				w.logger.CtxWarn(ctx, "worker %s: lost lease on %s, abandoning", w.id, job.JobID)
			}
			return
		}
	}
}

func (w *Worker) finalize(ctx context.Context, job jobqueue.JobRecord, outcome dispatch.Outcome) {
	now := w.clock.Now()

	switch outcome.Kind {
	case dispatch.KindOK:
		if err := w.store.MarkCompleted(ctx, job.JobID, w.id, now); err != nil && w.logger != nil {
			w.logger.CtxError(ctx, "worker %s: MarkCompleted(%s) failed: %v", w.id, job.JobID, err)
		}
		w.metrics.ObserveOutcome(job.JobType, metrics.DispositionCompleted)
		return
	case dispatch.KindPermanent:
		w.report(ctx, job, outcome.Err)
		if err := w.store.MarkDeadLetter(ctx, job.JobID, w.id, outcome.Err.Error()); err != nil && w.logger != nil {
			w.logger.CtxError(ctx, "worker %s: MarkDeadLetter(%s) failed: %v", w.id, job.JobID, err)
		}
		w.metrics.ObserveOutcome(job.JobType, metrics.DispositionDeadLettered)
		return
	}

	// KindRetryable.
	w.report(ctx, job, outcome.Err)
	if w.retry.ShouldRetry(job.Attempts) {
		nextRun := w.retry.NextRun(now, job.Attempts)
		if err := w.store.MarkFailedForRetry(ctx, job.JobID, w.id, nextRun, outcome.Err.Error()); err != nil && w.logger != nil {
			w.logger.CtxError(ctx, "worker %s: MarkFailedForRetry(%s) failed: %v", w.id, job.JobID, err)
		}
		w.metrics.ObserveOutcome(job.JobType, metrics.DispositionRetried)
		return
	}
	if err := w.store.MarkDeadLetter(ctx, job.JobID, w.id, outcome.Err.Error()); err != nil && w.logger != nil {
		w.logger.CtxError(ctx, "worker %s: MarkDeadLetter(%s) failed: %v", w.id, job.JobID, err)
	}
	w.metrics.ObserveOutcome(job.JobType, metrics.DispositionDeadLettered)
}

func (w *Worker) report(ctx context.Context, job jobqueue.JobRecord, err error) {
	if w.reporter == nil || err == nil {
		return
	}
	w.reporter.Report(ctx, fmt.Errorf("job_type %s: %w", job.JobType, err), map[string]any{
		"job_id":   job.JobID.String(),
		"job_type": job.JobType,
		"attempts": job.Attempts,
		"payload":  utils.Truncate(string(job.Payload), reportPayloadMaxLen),
	})
}
