package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/eykd/companion-memory/internal/cronplanner"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/jobqueue"
	"github.com/eykd/companion-memory/internal/pkg/logs"
	"github.com/eykd/companion-memory/internal/singleton"
	"github.com/eykd/companion-memory/internal/worker"
)

// scheduleAdapter wraps a dispatch.ScheduleFunc value as an unnamed function
// literal so it satisfies cronplanner's narrower scheduleFunc parameter type
// without cronplanner importing dispatch.
func scheduleAdapter(fn dispatch.ScheduleFunc) func(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (string, error) {
	return func(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (string, error) {
		return fn(ctx, jobType, payload, when, logicalID, bucket)
	}
}

// schedulerCommand runs the process that holds the SingletonLock, drives
// CronPlanner's triggers while leading, and also runs a Worker — per
// spec.md §6.3, the scheduler process does both.
func schedulerCommand() *cli.Command {
	return &cli.Command{
		Name:  "scheduler",
		Usage: "Acquire the singleton lock, run the cron planner, and poll the job queue",
		Flags: []cli.Flag{configFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runScheduler(ctx, cmd.String("config"))
		},
	}
}

func runScheduler(ctx context.Context, cfgPath string) error {
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pid := processID("scheduler")
	leader := singleton.NewLeader(a.lock, pid, a.cfg.Scheduler.SingletonTTL, a.cfg.Scheduler.SingletonRefresh, a.clock, a.logger)
	leader.SetMetrics(a.metrics)
	go leader.Run(ctx)

	planner := cronplanner.New(leader, scheduleAdapter(a.hctx.Schedule), a.clock, a.logger, a.settings, cronplanner.Config{
		EnableHeartbeat:         a.cfg.Scheduler.EnableHeartbeat,
		DailySummaryUsers:       a.cfg.Scheduler.DailySummaryUsers,
		WorkSamplingUsers:       a.cfg.Scheduler.WorkSamplingUsers,
		WorkSamplingSlotsPerDay: a.cfg.Scheduler.WorkSamplingSlotsPerDay,
		UserSyncUsers:           a.cfg.Scheduler.UserSyncUsers,
	})
	if err := planner.Start(ctx); err != nil {
		return fmt.Errorf("scheduler: start cron planner: %w", err)
	}
	defer planner.Stop()

	dispatcher := dispatch.NewDispatcher(a.registry)
	w := worker.New(pid, a.store, jobqueue.RetryPolicy{BaseDelay: a.cfg.Scheduler.BaseDelay, MaxAttempts: a.cfg.Scheduler.MaxAttempts}, dispatcher, a.hctx, a.reporter, a.clock, a.logger, worker.Config{
		PollInterval:    a.cfg.Scheduler.PollInterval,
		BatchLimit:      a.cfg.Scheduler.BatchLimit,
		Lease:           a.cfg.Scheduler.Lease,
		Concurrency:     a.cfg.Scheduler.Concurrency,
		GracefulTimeout: a.cfg.Scheduler.GracefulTimeout,
	})
	w.SetMetrics(a.metrics)
	go w.Run(ctx)

	a.logger.CtxInfo(ctx, "scheduler %s running. Press Ctrl+C to stop.", pid)
	waitForShutdown(ctx, a.logger)

	cancel()
	return nil
}

func waitForShutdown(ctx context.Context, logger logs.Logger) {
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		logger.CtxInfo(ctx, "received shutdown signal (%s), stopping", sig.String())
	case <-ctx.Done():
	}
}
