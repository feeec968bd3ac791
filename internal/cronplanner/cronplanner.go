// Package cronplanner runs the small set of time-driven triggers that seed
// work into the job queue: heartbeat, daily summary, work sampling prompts,
// and periodic user sync. Triggers only fire while the process holds the
// SingletonLock.
package cronplanner

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/jobqueue"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	"github.com/eykd/companion-memory/internal/singleton"
)

// UserTimeZones resolves a user's local time zone for the daily and
// work-sampling planners.
type UserTimeZones interface {
	TimeZone(ctx context.Context, userID string) (*time.Location, error)
}

// Config tunes which planner triggers are registered.
type Config struct {
	EnableHeartbeat         bool
	DailySummaryUsers       []string
	WorkSamplingUsers       []string
	WorkSamplingSlotsPerDay int
	UserSyncUsers           []string
}

// Planner owns a robfig/cron wheel whose entries gate on Leader.IsLeader()
// before doing anything.
type Planner struct {
	cron     *cron.Cron
	leader   *singleton.Leader
	schedule scheduleFunc
	clock    clock.Clock
	logger   logs.Logger
	cfg      Config
	tz       UserTimeZones
}

// scheduleFunc matches dispatch.ScheduleFunc's shape without importing
// dispatch, keeping this package's dependency surface narrow.
type scheduleFunc func(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (string, error)

// New constructs a Planner. schedule is typically (*schedulerapi.API).AsScheduleFunc().
func New(leader *singleton.Leader, schedule scheduleFunc, c clock.Clock, logger logs.Logger, tz UserTimeZones, cfg Config) *Planner {
	return &Planner{
		cron:     cron.New(),
		leader:   leader,
		schedule: schedule,
		clock:    c,
		logger:   logger,
		cfg:      cfg,
		tz:       tz,
	}
}

// Start registers every enabled trigger and begins the cron wheel. It does
// not block; call Stop to halt it.
func (p *Planner) Start(ctx context.Context) error {
	if p.cfg.EnableHeartbeat {
		if _, err := p.cron.AddFunc("* * * * *", p.guarded(ctx, p.heartbeatTimed)); err != nil {
			return fmt.Errorf("cronplanner: register heartbeat: %w", err)
		}
	}
	if len(p.cfg.DailySummaryUsers) > 0 {
		if _, err := p.cron.AddFunc("0 0 * * *", p.guarded(ctx, p.dailySummaryPlanner)); err != nil {
			return fmt.Errorf("cronplanner: register daily_summary_planner: %w", err)
		}
	}
	if len(p.cfg.WorkSamplingUsers) > 0 {
		if _, err := p.cron.AddFunc("0 0 * * *", p.guarded(ctx, p.workSamplingPlanner)); err != nil {
			return fmt.Errorf("cronplanner: register work_sampling_planner: %w", err)
		}
	}
	if len(p.cfg.UserSyncUsers) > 0 {
		if _, err := p.cron.AddFunc("0 */6 * * *", p.guarded(ctx, p.userSync)); err != nil {
			return fmt.Errorf("cronplanner: register user_sync: %w", err)
		}
	}

	p.cron.Start()
	return nil
}

// Stop halts the cron wheel, waiting for any in-flight trigger to return.
func (p *Planner) Stop() {
	<-p.cron.Stop().Done()
}

// guarded wraps a trigger so it only runs while this process holds the
// SingletonLock. A missed tick during a leadership gap is never backfilled;
// deduplication on the next successful tick prevents double-scheduling.
func (p *Planner) guarded(ctx context.Context, fn func(context.Context)) func() {
	return func() {
		if p.leader != nil && !p.leader.IsLeader() {
			return
		}
		fn(ctx)
	}
}

func (p *Planner) heartbeatTimed(ctx context.Context) {
	u, err := jobqueue.NewJobID()
	if err != nil {
		if p.logger != nil {
			p.logger.CtxError(ctx, "cronplanner: heartbeat_timed: generate uuid: %v", err)
		}
		return
	}
	if p.logger != nil {
		p.logger.CtxInfo(ctx, "Heartbeat (timed): UUID=%s", u)
	}

	when := p.clock.Now().Add(10 * time.Second)
	if _, err := p.schedule(ctx, "heartbeat_event", map[string]string{"uuid": u.String()}, when, "", ""); err != nil {
		if p.logger != nil {
			p.logger.CtxError(ctx, "cronplanner: heartbeat_timed: schedule: %v", err)
		}
	}
}

func (p *Planner) dailySummaryPlanner(ctx context.Context) {
	for _, user := range p.cfg.DailySummaryUsers {
		loc, err := p.tz.TimeZone(ctx, user)
		if err != nil {
			if p.logger != nil {
				p.logger.CtxError(ctx, "cronplanner: daily_summary_planner: %s: %v", user, err)
			}
			continue
		}

		localNow := p.clock.Now().In(loc)
		next := nextLocalClock(localNow, 7, 0)
		bucket := next.Format("2006-01-02")

		logicalID := fmt.Sprintf("daily_summary:%s", user)
		if _, err := p.schedule(ctx, "daily_summary", map[string]string{"user_id": user}, next.UTC(), logicalID, bucket); err != nil {
			if p.logger != nil {
				p.logger.CtxError(ctx, "cronplanner: daily_summary_planner: %s: %v", user, err)
			}
		}
	}
}

func (p *Planner) workSamplingPlanner(ctx context.Context) {
	slots := p.cfg.WorkSamplingSlotsPerDay
	if slots <= 0 {
		return
	}

	for _, user := range p.cfg.WorkSamplingUsers {
		loc, err := p.tz.TimeZone(ctx, user)
		if err != nil {
			if p.logger != nil {
				p.logger.CtxError(ctx, "cronplanner: work_sampling_planner: %s: %v", user, err)
			}
			continue
		}

		localNow := p.clock.Now().In(loc)
		localDate := localNow.Format("2006-01-02")
		windowStart := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 8, 0, 0, 0, loc)
		windowEnd := time.Date(localNow.Year(), localNow.Month(), localNow.Day(), 17, 0, 0, 0, loc)
		slotWidth := windowEnd.Sub(windowStart) / time.Duration(slots)

		for i := 0; i < slots; i++ {
			seed := sha256Seed(fmt.Sprintf("%s-%s-%d", user, localDate, i))
			rng := rand.New(rand.NewSource(seed))

			slotStart := windowStart.Add(time.Duration(i) * slotWidth)
			offset := time.Duration(rng.Int63n(int64(slotWidth)))
			when := slotStart.Add(offset)

			logicalID := fmt.Sprintf("work_sampling_prompt:%s:%d", user, i)
			payload := map[string]any{"user_id": user, "slot_index": i}
			if _, err := p.schedule(ctx, "work_sampling_prompt", payload, when.UTC(), logicalID, localDate); err != nil {
				if p.logger != nil {
					p.logger.CtxError(ctx, "cronplanner: work_sampling_planner: %s slot %d: %v", user, i, err)
				}
			}
		}
	}
}

func (p *Planner) userSync(ctx context.Context) {
	for _, user := range p.cfg.UserSyncUsers {
		payload := map[string]string{"user_id": user}
		if _, err := p.schedule(ctx, "user_sync", payload, p.clock.Now(), "", ""); err != nil {
			if p.logger != nil {
				p.logger.CtxError(ctx, "cronplanner: user_sync: %s: %v", user, err)
			}
		}
	}
}

// nextLocalClock returns the next instant, in t's own zone, at hour:minute
// on or after t.
func nextLocalClock(t time.Time, hour, minute int) time.Time {
	candidate := time.Date(t.Year(), t.Month(), t.Day(), hour, minute, 0, 0, t.Location())
	if candidate.Before(t) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}

func sha256Seed(s string) int64 {
	sum := sha256.Sum256([]byte(s))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}
