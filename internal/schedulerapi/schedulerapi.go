// Package schedulerapi implements the Schedule entry point used by HTTP
// handlers, the CLI, and CronPlanner triggers to enqueue work.
package schedulerapi

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/jobqueue"
)

// Result reports whether Schedule inserted a new job or found an existing
// reservation for the same (logical_id, bucket).
type Result int

const (
	Scheduled Result = iota
	Deduplicated
)

func (r Result) String() string {
	if r == Deduplicated {
		return "deduplicated"
	}
	return "scheduled"
}

// API wires the JobStore and DeduplicationIndex behind the single Schedule
// call every caller uses to enqueue work.
type API struct {
	store jobqueue.Store
	dedup jobqueue.DeduplicationIndex
	clock clock.Clock
}

// New constructs an API.
func New(store jobqueue.Store, dedup jobqueue.DeduplicationIndex, c clock.Clock) *API {
	return &API{store: store, dedup: dedup, clock: c}
}

// Schedule enqueues payload as a job_type job to run at when. If logicalID
// is non-empty, the index is reserved first; a Deduplicated result means no
// new job was inserted and is not itself an error. An unknown job_type is
// not rejected here — that validation belongs to the dispatcher, which
// knows the registered handlers.
func (a *API) Schedule(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (Result, error) {
	if jobType == "" {
		return 0, fmt.Errorf("schedulerapi: job_type is required")
	}
	if logicalID != "" && bucket == "" {
		return 0, fmt.Errorf("schedulerapi: bucket is required when logical_id is set")
	}

	raw, err := sonic.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("schedulerapi: marshal payload: %w", err)
	}

	jobID, err := jobqueue.NewJobID()
	if err != nil {
		return 0, fmt.Errorf("schedulerapi: %w", err)
	}

	if logicalID != "" {
		outcome, err := a.dedup.TryReserve(ctx, logicalID, bucket, jobID)
		if err != nil {
			return 0, fmt.Errorf("schedulerapi: TryReserve: %w", err)
		}
		if outcome == jobqueue.AlreadyReserved {
			return Deduplicated, nil
		}
	}

	rec := &jobqueue.JobRecord{
		JobID:        jobID,
		JobType:      jobType,
		Payload:      raw,
		ScheduledFor: when,
		CreatedAt:    a.clock.Now(),
		LogicalID:    logicalID,
		Bucket:       bucket,
	}
	if err := a.store.Insert(ctx, rec); err != nil {
		return 0, fmt.Errorf("schedulerapi: Insert: %w", err)
	}
	return Scheduled, nil
}

// AsScheduleFunc adapts Schedule to dispatch.ScheduleFunc so running
// handlers can enqueue follow-ups without this package depending on
// dispatch's richer Context type.
func (a *API) AsScheduleFunc() dispatch.ScheduleFunc {
	return func(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (string, error) {
		result, err := a.Schedule(ctx, jobType, payload, when, logicalID, bucket)
		if err != nil {
			return "", err
		}
		return result.String(), nil
	}
}
