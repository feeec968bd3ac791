package jobqueue

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
)

func mustJobID(t *testing.T) uuid.UUID {
	t.Helper()
	id, err := NewJobID()
	if err != nil {
		t.Fatalf("NewJobID: %v", err)
	}
	return id
}

func insertAt(t *testing.T, store *MemStore, scheduledFor time.Time) JobRecord {
	t.Helper()
	rec := JobRecord{
		JobID:        mustJobID(t),
		JobType:      "noop",
		Payload:      []byte(`{}`),
		ScheduledFor: scheduledFor,
		CreatedAt:    scheduledFor,
	}
	if err := store.Insert(context.Background(), &rec); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	return rec
}

// S1: Insert job A at t=100, B at t=100, C at t=200. Poll at t=150 returns
// [A, B] in sort-key order; poll at t=250 returns A, B, C if not completed.
func TestQueryDue_OrderedBySchedule(t *testing.T) {
	store := NewMemStore()
	base := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	a := insertAt(t, store, base)
	b := insertAt(t, store, base)
	c := insertAt(t, store, base.Add(100*time.Second))

	due, err := store.QueryDue(context.Background(), base.Add(50*time.Second), 25)
	if err != nil {
		t.Fatalf("QueryDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("expected 2 due jobs at t+50s, got %d", len(due))
	}
	seen := map[uuid.UUID]bool{due[0].JobID: true, due[1].JobID: true}
	if !seen[a.JobID] || !seen[b.JobID] {
		t.Fatalf("expected A and B due, got %v", due)
	}

	due, err = store.QueryDue(context.Background(), base.Add(150*time.Second), 25)
	if err != nil {
		t.Fatalf("QueryDue: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 due jobs at t+150s, got %d", len(due))
	}
	if due[2].JobID != c.JobID {
		t.Fatalf("expected C last in ascending order, got %v", due)
	}
}

// P6: within a single batch, jobs are returned in ascending scheduled_for.
func TestQueryDue_AscendingOrder(t *testing.T) {
	store := NewMemStore()
	base := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	var want []uuid.UUID
	for i := 9; i >= 0; i-- {
		rec := insertAt(t, store, base.Add(time.Duration(i)*time.Second))
		want = append(want, rec.JobID)
	}

	due, err := store.QueryDue(context.Background(), base.Add(20*time.Second), 25)
	if err != nil {
		t.Fatalf("QueryDue: %v", err)
	}
	if len(due) != 10 {
		t.Fatalf("expected 10 due jobs, got %d", len(due))
	}
	for i := 0; i < len(due)-1; i++ {
		if due[i].ScheduledFor.After(due[i+1].ScheduledFor) {
			t.Fatalf("QueryDue not ascending at index %d: %v > %v", i, due[i].ScheduledFor, due[i+1].ScheduledFor)
		}
	}
}

// S2: Two workers Claim job A simultaneously. Exactly one wins.
func TestClaim_MutualExclusion(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	a := insertAt(t, store, now)

	outcome1, err := store.Claim(context.Background(), a.JobID, "w1", now, 30*time.Second)
	if err != nil {
		t.Fatalf("Claim w1: %v", err)
	}
	outcome2, err := store.Claim(context.Background(), a.JobID, "w2", now, 30*time.Second)
	if err != nil {
		t.Fatalf("Claim w2: %v", err)
	}

	if outcome1 != ClaimWon || outcome2 != ClaimLostRace {
		t.Fatalf("expected exactly one claim to win, got outcome1=%v outcome2=%v", outcome1, outcome2)
	}

	if err := store.MarkCompleted(context.Background(), a.JobID, "w1", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	rec, err := store.Get(context.Background(), a.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", rec.Status)
	}
	if rec.LockedBy != "" {
		t.Fatalf("expected locked_by cleared, got %q", rec.LockedBy)
	}
}

// P1: at any instant at most one worker's locked_by matches a non-expired
// lock_expires_at. A losing claimant never observes itself as locked_by.
func TestClaim_LoserNeverLocksRecord(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	a := insertAt(t, store, now)

	if outcome, err := store.Claim(context.Background(), a.JobID, "w1", now, 30*time.Second); err != nil || outcome != ClaimWon {
		t.Fatalf("w1 claim: outcome=%v err=%v", outcome, err)
	}
	if outcome, err := store.Claim(context.Background(), a.JobID, "w2", now, 30*time.Second); err != nil || outcome != ClaimLostRace {
		t.Fatalf("w2 claim: outcome=%v err=%v", outcome, err)
	}

	rec, err := store.Get(context.Background(), a.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.LockedBy != "w1" {
		t.Fatalf("expected locked_by=w1, got %q", rec.LockedBy)
	}
}

// P7: after simulated worker death mid-handler, the job is re-claimable once
// lease_seconds elapse, and only then.
func TestClaim_ExpiredLeaseAllowsReclaim(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	a := insertAt(t, store, now)

	if outcome, err := store.Claim(context.Background(), a.JobID, "w1", now, 30*time.Second); err != nil || outcome != ClaimWon {
		t.Fatalf("w1 claim: outcome=%v err=%v", outcome, err)
	}

	// w1 dies. Before the lease expires, no one else can claim.
	beforeExpiry := now.Add(10 * time.Second)
	if outcome, err := store.Claim(context.Background(), a.JobID, "w2", beforeExpiry, 30*time.Second); err != nil || outcome != ClaimLostRace {
		t.Fatalf("expected lost-race before lease expiry, got outcome=%v err=%v", outcome, err)
	}

	// Once the lease has expired, another worker may reclaim it.
	afterExpiry := now.Add(31 * time.Second)
	if outcome, err := store.Claim(context.Background(), a.JobID, "w2", afterExpiry, 30*time.Second); err != nil || outcome != ClaimWon {
		t.Fatalf("expected claim to succeed after lease expiry, got outcome=%v err=%v", outcome, err)
	}

	rec, err := store.Get(context.Background(), a.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.LockedBy != "w2" {
		t.Fatalf("expected w2 to now hold the lease, got %q", rec.LockedBy)
	}
	if rec.Attempts != 2 {
		t.Fatalf("expected attempts=2 after reclaim, got %d", rec.Attempts)
	}
}

// P3: a job that reaches a terminal status never transitions to any other
// state.
func TestTerminalMonotonicity(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	a := insertAt(t, store, now)

	if _, err := store.Claim(context.Background(), a.JobID, "w1", now, 30*time.Second); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := store.MarkCompleted(context.Background(), a.JobID, "w1", now); err != nil {
		t.Fatalf("MarkCompleted: %v", err)
	}

	// A late straggler retry or dead-letter attempt under the old lease must
	// not move the record off completed: it no longer holds the lease.
	if err := store.MarkFailedForRetry(context.Background(), a.JobID, "w1", now.Add(time.Minute), "stale"); err != nil {
		t.Fatalf("MarkFailedForRetry: %v", err)
	}

	rec, err := store.Get(context.Background(), a.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusCompleted {
		t.Fatalf("expected status to remain completed, got %s", rec.Status)
	}
	if !rec.Status.Terminal() {
		t.Fatalf("expected completed to report Terminal()=true")
	}
}

// S3 / P4 / P5: a job that fails on attempts 1..4 and again on attempt 5
// reaches dead_letter with attempts=5, and the scheduled_for deltas follow
// the exponential backoff law.
func TestRetryPolicy_CapAndBackoffLaw(t *testing.T) {
	store := NewMemStore()
	policy := DefaultRetryPolicy()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	rec := insertAt(t, store, now)

	var deltas []time.Duration
	cursor := now
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		outcome, err := store.Claim(context.Background(), rec.JobID, "w1", cursor, 30*time.Second)
		if err != nil || outcome != ClaimWon {
			t.Fatalf("attempt %d: claim outcome=%v err=%v", attempt, outcome, err)
		}

		current, err := store.Get(context.Background(), rec.JobID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if current.Attempts != attempt {
			t.Fatalf("attempt %d: expected attempts=%d, got %d", attempt, attempt, current.Attempts)
		}

		if policy.ShouldRetry(current.Attempts) {
			nextRun := policy.NextRun(cursor, current.Attempts)
			deltas = append(deltas, nextRun.Sub(cursor))
			if err := store.MarkFailedForRetry(context.Background(), rec.JobID, "w1", nextRun, "transient"); err != nil {
				t.Fatalf("MarkFailedForRetry: %v", err)
			}
			cursor = nextRun
		} else {
			if err := store.MarkDeadLetter(context.Background(), rec.JobID, "w1", "transient"); err != nil {
				t.Fatalf("MarkDeadLetter: %v", err)
			}
		}
	}

	final, err := store.Get(context.Background(), rec.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Status != StatusDeadLetter {
		t.Fatalf("expected dead_letter, got %s", final.Status)
	}
	if final.Attempts != 5 {
		t.Fatalf("expected attempts=5, got %d", final.Attempts)
	}
	if final.LastError != "transient" {
		t.Fatalf("expected last_error set, got %q", final.LastError)
	}

	wantDeltas := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 480 * time.Second}
	if len(deltas) != len(wantDeltas) {
		t.Fatalf("expected %d retry deltas, got %d: %v", len(wantDeltas), len(deltas), deltas)
	}
	for i, want := range wantDeltas {
		if deltas[i] != want {
			t.Fatalf("delta %d: expected %v, got %v", i, want, deltas[i])
		}
	}
}

func TestCancel_OnlyFromPending(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	a := insertAt(t, store, now)

	if err := store.Cancel(context.Background(), a.JobID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec, err := store.Get(context.Background(), a.JobID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", rec.Status)
	}

	if err := store.Cancel(context.Background(), a.JobID); err == nil {
		t.Fatalf("expected error cancelling an already-cancelled job")
	}
}

func TestInsert_RejectsDuplicateJobID(t *testing.T) {
	store := NewMemStore()
	now := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)
	rec := insertAt(t, store, now)

	dup := rec
	if err := store.Insert(context.Background(), &dup); err == nil {
		t.Fatalf("expected error inserting a duplicate job_id")
	}
}

// S4: scheduling twice with the same logical_id and bucket reserves exactly
// once.
func TestDedup_Idempotence(t *testing.T) {
	idx := NewMemDedupIndex(func() time.Time { return time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC) })
	jobID := mustJobID(t)

	outcome1, err := idx.TryReserve(context.Background(), "daily_summary:U1", "2025-07-14", jobID)
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	outcome2, err := idx.TryReserve(context.Background(), "daily_summary:U1", "2025-07-14", mustJobID(t))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}

	if outcome1 != Reserved {
		t.Fatalf("expected first reservation to succeed, got %v", outcome1)
	}
	if outcome2 != AlreadyReserved {
		t.Fatalf("expected second reservation to be rejected, got %v", outcome2)
	}

	got, ok, err := idx.ReservedJob(context.Background(), "daily_summary:U1", "2025-07-14")
	if err != nil {
		t.Fatalf("ReservedJob: %v", err)
	}
	if !ok || got != jobID {
		t.Fatalf("expected reservation to point at first job, got %v ok=%v", got, ok)
	}
}

func TestDedup_DifferentBucketsIndependent(t *testing.T) {
	idx := NewMemDedupIndex(func() time.Time { return time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC) })

	outcome1, err := idx.TryReserve(context.Background(), "daily_summary:U1", "2025-07-14", mustJobID(t))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	outcome2, err := idx.TryReserve(context.Background(), "daily_summary:U1", "2025-07-15", mustJobID(t))
	if err != nil {
		t.Fatalf("TryReserve: %v", err)
	}

	if outcome1 != Reserved || outcome2 != Reserved {
		t.Fatalf("expected independent buckets to both reserve, got %v %v", outcome1, outcome2)
	}
}

func TestSortKey_RoundTrip(t *testing.T) {
	id := mustJobID(t)
	ts := time.Date(2025, 7, 14, 12, 30, 0, 0, time.UTC)

	sk := SortKey(ts, id)
	gotTS, gotID, err := ParseSortKey(sk)
	if err != nil {
		t.Fatalf("ParseSortKey: %v", err)
	}
	if !gotTS.Equal(ts) {
		t.Fatalf("expected ts=%v, got %v", ts, gotTS)
	}
	if gotID != id {
		t.Fatalf("expected id=%v, got %v", id, gotID)
	}
}
