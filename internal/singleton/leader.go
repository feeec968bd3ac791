package singleton

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/metrics"
	"github.com/eykd/companion-memory/internal/pkg/logs"
)

// DefaultTTL and DefaultRefreshInterval match the documented recommended
// usage: acquire with a 90s lease, refresh every 30s.
const (
	DefaultTTL             = 90 * time.Second
	DefaultRefreshInterval = 30 * time.Second
)

// Leader runs a goroutine that repeatedly tries to acquire and then hold a
// Lock, exposing IsLeader() for callers (CronPlanner) to check before each
// tick. It never blocks callers on store I/O.
type Leader struct {
	lock      Lock
	processID string
	ttl       time.Duration
	interval  time.Duration
	clock     clock.Clock
	logger    logs.Logger
	metrics   *metrics.Collectors

	leading atomic.Bool
}

// SetMetrics attaches the leader_status gauge this Leader reports
// transitions against. Optional.
func (l *Leader) SetMetrics(m *metrics.Collectors) {
	l.metrics = m
}

// NewLeader constructs a Leader. logger may be nil, in which case no
// leadership transitions are logged.
func NewLeader(lock Lock, processID string, ttl, interval time.Duration, c clock.Clock, logger logs.Logger) *Leader {
	return &Leader{
		lock:      lock,
		processID: processID,
		ttl:       ttl,
		interval:  interval,
		clock:     c,
		logger:    logger,
	}
}

// IsLeader reports whether this process currently believes it holds the
// lock. It is a cheap, local read; the authoritative state is the backing
// store, so a brief window of staleness after losing leadership is
// possible and acceptable (the next refresh tick corrects it).
func (l *Leader) IsLeader() bool {
	return l.leading.Load()
}

// Run drives the acquire/refresh loop until ctx is cancelled. On return,
// the lock has been released if this process was holding it.
func (l *Leader) Run(ctx context.Context) {
	defer l.release(ctx)

	for {
		if !l.leading.Load() {
			l.tryAcquire(ctx)
		} else {
			l.tryRefresh(ctx)
		}

		select {
		case <-ctx.Done():
			return
		case <-l.clock.After(l.interval):
		}
	}
}

func (l *Leader) tryAcquire(ctx context.Context) {
	leader, err := l.lock.Acquire(ctx, l.processID, l.ttl, l.clock.Now())
	if err != nil {
		if l.logger != nil {
			l.logger.CtxError(ctx, "singleton: acquire failed: %v", err)
		}
		return
	}
	if leader {
		l.leading.Store(true)
		l.metrics.ObserveLeader(true)
		if l.logger != nil {
			l.logger.CtxInfo(ctx, "singleton: %s acquired leadership", l.processID)
		}
	}
}

func (l *Leader) tryRefresh(ctx context.Context) {
	outcome, err := l.lock.Refresh(ctx, l.processID, l.ttl, l.clock.Now())
	if err != nil {
		if l.logger != nil {
			l.logger.CtxError(ctx, "singleton: refresh failed: %v", err)
		}
		return
	}
	if outcome == Lost {
		l.leading.Store(false)
		l.metrics.ObserveLeader(false)
		if l.logger != nil {
			l.logger.CtxWarn(ctx, "singleton: %s lost leadership", l.processID)
		}
	}
}

func (l *Leader) release(ctx context.Context) {
	if !l.leading.Load() {
		return
	}
	l.leading.Store(false)
	l.metrics.ObserveLeader(false)
	if err := l.lock.Release(ctx, l.processID); err != nil && l.logger != nil {
		l.logger.CtxError(ctx, "singleton: release failed: %v", err)
	}
}
