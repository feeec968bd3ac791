package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/dispatch"
	"github.com/eykd/companion-memory/internal/jobqueue"
)

func newTestWorker(t *testing.T, store jobqueue.Store, reg *dispatch.Registry, fc *clock.Fake) *Worker {
	t.Helper()
	d := dispatch.NewDispatcher(reg)
	hctx := &dispatch.Context{Clock: fc}
	return New("w1", store, jobqueue.DefaultRetryPolicy(), d, hctx, nil, fc, nil, Config{Lease: 2 * time.Second})
}

func insertJob(t *testing.T, store jobqueue.Store, jobType string, scheduledFor time.Time) jobqueue.JobRecord {
	t.Helper()
	id, err := jobqueue.NewJobID()
	if err != nil {
		t.Fatalf("NewJobID: %v", err)
	}
	rec := jobqueue.JobRecord{
		JobID:        id,
		JobType:      jobType,
		Payload:      []byte(`{}`),
		ScheduledFor: scheduledFor,
		CreatedAt:    scheduledFor,
	}
	if err := store.Insert(context.Background(), &rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

func TestWorker_CompletesSuccessfulJob(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Registration{
		JobType: "noop",
		Parse:   func(raw []byte) (any, error) { return nil, nil },
		Run:     func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome { return dispatch.OK() },
	})
	w := newTestWorker(t, store, reg, fc)

	rec := insertJob(t, store, "noop", fc.Now())
	w.pollOnce(context.Background())
	w.Wait()

	got, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobqueue.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

func TestWorker_RetryableFailureReschedules(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Registration{
		JobType: "flaky",
		Parse:   func(raw []byte) (any, error) { return nil, nil },
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			return dispatch.Retryable(errors.New("transient"))
		},
	})
	w := newTestWorker(t, store, reg, fc)

	rec := insertJob(t, store, "flaky", fc.Now())
	w.pollOnce(context.Background())
	w.Wait()

	got, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobqueue.StatusPending {
		t.Fatalf("expected pending after retryable failure, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Fatalf("expected attempts=1, got %d", got.Attempts)
	}
	wantDelta := jobqueue.DefaultRetryPolicy().BaseDelay
	if got.ScheduledFor.Sub(fc.Now()) != wantDelta {
		t.Fatalf("expected scheduled_for delta=%v, got %v", wantDelta, got.ScheduledFor.Sub(fc.Now()))
	}
	if got.LastError != "transient" {
		t.Fatalf("expected last_error set, got %q", got.LastError)
	}
}

func TestWorker_ValidationFailureGoesDirectlyToDeadLetter(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Registration{
		JobType: "bad_payload",
		Parse:   func(raw []byte) (any, error) { return nil, errors.New("schema mismatch") },
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			t.Fatalf("run should not be reached")
			return dispatch.OK()
		},
	})
	w := newTestWorker(t, store, reg, fc)

	rec := insertJob(t, store, "bad_payload", fc.Now())
	w.pollOnce(context.Background())
	w.Wait()

	got, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobqueue.StatusDeadLetter {
		t.Fatalf("expected dead_letter after validation failure, got %s", got.Status)
	}
}

func TestWorker_ExhaustedRetriesGoToDeadLetter(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	reg := dispatch.NewRegistry()
	reg.Register(dispatch.Registration{
		JobType: "flaky",
		Parse:   func(raw []byte) (any, error) { return nil, nil },
		Run: func(ctx context.Context, hctx *dispatch.Context, payload any) dispatch.Outcome {
			return dispatch.Retryable(errors.New("transient"))
		},
	})
	w := newTestWorker(t, store, reg, fc)

	rec := insertJob(t, store, "flaky", fc.Now())
	for i := 0; i < jobqueue.DefaultRetryPolicy().MaxAttempts; i++ {
		w.pollOnce(context.Background())
		w.Wait()
		current, err := store.Get(context.Background(), rec.JobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if current.Status == jobqueue.StatusPending {
			fc.Advance(current.ScheduledFor.Sub(fc.Now()))
		}
	}

	final, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != jobqueue.StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", final.Status)
	}
	if final.Attempts != jobqueue.DefaultRetryPolicy().MaxAttempts {
		t.Fatalf("expected attempts=%d, got %d", jobqueue.DefaultRetryPolicy().MaxAttempts, final.Attempts)
	}
}

// P7: after a simulated crash mid-handler (lease renewal stops), the job is
// reclaimable once the lease expires, and the abandoned handler's eventual
// finalize write is rejected by the store's CAS.
func TestWorker_AbandonedHandlerCannotFinalizeAfterReclaim(t *testing.T) {
	store := jobqueue.NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	rec := insertJob(t, store, "noop", now)

	if outcome, err := store.Claim(context.Background(), rec.JobID, "w1", now, 2*time.Second); err != nil || outcome != jobqueue.ClaimWon {
		t.Fatalf("w1 claim: outcome=%v err=%v", outcome, err)
	}

	// w1 crashes; its lease lapses, and w2 reclaims.
	afterExpiry := now.Add(3 * time.Second)
	if outcome, err := store.Claim(context.Background(), rec.JobID, "w2", afterExpiry, 2*time.Second); err != nil || outcome != jobqueue.ClaimWon {
		t.Fatalf("w2 reclaim: outcome=%v err=%v", outcome, err)
	}

	// w1's stale handler finally finishes and tries to finalize. It must
	// have no effect: w2 now owns the lease.
	if err := store.MarkCompleted(context.Background(), rec.JobID, "w1", afterExpiry); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	got, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != jobqueue.StatusInProgress {
		t.Fatalf("expected w2's in_progress claim to stand, got %s", got.Status)
	}
	if got.LockedBy != "w2" {
		t.Fatalf("expected locked_by=w2, got %q", got.LockedBy)
	}
}
