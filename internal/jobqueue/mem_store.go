package jobqueue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation. It is the reference
// implementation used by the test suite and is suitable as a single-process
// development backend; DynamoStore is the production implementation for
// multi-process deployments sharing one table.
type MemStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]JobRecord
}

var _ Store = (*MemStore)(nil)

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{jobs: make(map[uuid.UUID]JobRecord)}
}

func (s *MemStore) Insert(_ context.Context, job *JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.JobID]; exists {
		return fmt.Errorf("jobqueue: job_id collision: %s", job.JobID)
	}

	rec := *job
	rec.Status = StatusPending
	rec.Attempts = 0
	rec.LockedBy = ""
	rec.LockExpiresAt = time.Time{}
	rec.CompletedAt = time.Time{}
	s.jobs[job.JobID] = rec
	*job = rec
	return nil
}

func (s *MemStore) QueryDue(_ context.Context, now time.Time, limit int) ([]JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []JobRecord
	for _, rec := range s.jobs {
		if rec.Status != StatusPending {
			continue
		}
		if !rec.LockExpiresAt.IsZero() && rec.LockExpiresAt.After(now) {
			continue
		}
		if rec.ScheduledFor.After(now) {
			continue
		}
		due = append(due, rec)
	}

	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledFor.Equal(due[j].ScheduledFor) {
			return due[i].ScheduledFor.Before(due[j].ScheduledFor)
		}
		return due[i].JobID.String() < due[j].JobID.String()
	})

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemStore) Claim(_ context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (ClaimOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ClaimLostRace, ErrNotFound
	}

	if rec.Status != StatusPending && rec.Status != StatusInProgress {
		return ClaimLostRace, nil
	}
	if !rec.LockExpiresAt.IsZero() && rec.LockExpiresAt.After(now) {
		return ClaimLostRace, nil
	}

	rec.Status = StatusInProgress
	rec.LockedBy = workerID
	rec.LockExpiresAt = now.Add(lease)
	rec.Attempts++
	s.jobs[jobID] = rec
	return ClaimWon, nil
}

func (s *MemStore) RenewLease(_ context.Context, jobID uuid.UUID, workerID string, now time.Time, lease time.Duration) (RenewOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return RenewLost, ErrNotFound
	}
	if rec.Status != StatusInProgress || rec.LockedBy != workerID {
		return RenewLost, nil
	}

	rec.LockExpiresAt = now.Add(lease)
	s.jobs[jobID] = rec
	return RenewOK, nil
}

func (s *MemStore) MarkCompleted(_ context.Context, jobID uuid.UUID, workerID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.LockedBy != workerID {
		return nil // CAS precondition failed: benign lost race, not an error
	}

	rec.Status = StatusCompleted
	rec.CompletedAt = now
	rec.LockedBy = ""
	rec.LockExpiresAt = time.Time{}
	s.jobs[jobID] = rec
	return nil
}

func (s *MemStore) MarkFailedForRetry(_ context.Context, jobID uuid.UUID, workerID string, nextRun time.Time, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.LockedBy != workerID {
		return nil
	}

	rec.Status = StatusPending
	rec.ScheduledFor = nextRun
	rec.LockedBy = ""
	rec.LockExpiresAt = time.Time{}
	rec.LastError = lastError
	s.jobs[jobID] = rec
	return nil
}

func (s *MemStore) MarkDeadLetter(_ context.Context, jobID uuid.UUID, workerID string, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.LockedBy != workerID {
		return nil
	}

	rec.Status = StatusDeadLetter
	rec.LockedBy = ""
	rec.LockExpiresAt = time.Time{}
	rec.LastError = lastError
	s.jobs[jobID] = rec
	return nil
}

func (s *MemStore) Get(_ context.Context, jobID uuid.UUID) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemStore) Cancel(_ context.Context, jobID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status != StatusPending {
		return fmt.Errorf("jobqueue: cannot cancel job in status %s", rec.Status)
	}
	rec.Status = StatusCancelled
	s.jobs[jobID] = rec
	return nil
}
