package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/jobqueue"
	"github.com/eykd/companion-memory/internal/worker"
)

// workerCommand runs a job-worker process: no SingletonLock, no CronPlanner,
// just poll/claim/execute against the shared queue. Operators scale
// throughput by running more of these.
func workerCommand() *cli.Command {
	return &cli.Command{
		Name:  "job-worker",
		Usage: "Poll the job queue and execute due jobs",
		Flags: []cli.Flag{configFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return runWorker(ctx, cmd.String("config"))
		},
	}
}

func runWorker(ctx context.Context, cfgPath string) error {
	a, err := newApp(ctx, cfgPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pid := processID("job-worker")
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

	a.logger.CtxInfo(ctx, "job-worker %s running. Press Ctrl+C to stop.", pid)
	waitForShutdown(ctx, a.logger)

	cancel()
	w.Wait()
	return nil
}
