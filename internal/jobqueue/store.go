package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimOutcome reports whether a Claim attempt won or lost its CAS race.
type ClaimOutcome int

const (
	ClaimWon ClaimOutcome = iota
	ClaimLostRace
)

// RenewOutcome reports whether a lease renewal succeeded.
type RenewOutcome int

const (
	RenewOK RenewOutcome = iota
	RenewLost
)

// ErrNotFound is returned when an operation targets a job_id that does not
// exist in the store.
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "jobqueue: job not found" }

// Store is the persistence contract for JobRecord. Every mutation below is
// a single conditional write; callers never read a record, mutate it in
// memory, and write it back without the store re-checking the precondition
// itself.
type Store interface {
	// Insert writes job with status=pending, attempts=0. It fails if a
	// record with the same partition+sort already exists.
	Insert(ctx context.Context, job *JobRecord) error

	// QueryDue returns up to limit pending records (with an unset or
	// expired lease) whose scheduled_for is <= now, ordered ascending by
	// scheduled_for.
	QueryDue(ctx context.Context, now time.Time, limit int) ([]JobRecord, error)

	// Claim attempts to take ownership of job on behalf of workerID for
	// the given lease duration.
	Claim(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (ClaimOutcome, error)

	// RenewLease extends an in-progress job's lease.
	RenewLease(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (RenewOutcome, error)

	// MarkCompleted transitions a job to completed. Condition: locked_by
	// == workerID.
	MarkCompleted(ctx context.Context, jobID uuid.UUID, workerID string, now time.Time) error

	// MarkFailedForRetry rotates the job back to pending with a new
	// scheduled_for/sort key. Condition: locked_by == workerID.
	MarkFailedForRetry(ctx context.Context, jobID uuid.UUID, workerID string, nextRun time.Time, lastError string) error

	// MarkDeadLetter transitions a job to its terminal dead_letter state.
	// Condition: locked_by == workerID.
	MarkDeadLetter(ctx context.Context, jobID uuid.UUID, workerID string, lastError string) error

	// Get returns the current record for jobID, for tests and CLI
	// inspection.
	Get(ctx context.Context, jobID uuid.UUID) (JobRecord, error)

	// Cancel transitions a pending job to cancelled via admin action.
	Cancel(ctx context.Context, jobID uuid.UUID) error
}
