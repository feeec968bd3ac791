package singleton

import (
	"context"
	"testing"
	"time"

	"github.com/eykd/companion-memory/internal/clock"
)

// P8 / S6: at most one process observes a held lock at any instant; after
// the holder dies without releasing, a second process acquires once
// expires_at has passed, and not before.
func TestAcquire_ExclusiveWithExpiry(t *testing.T) {
	lock := NewMemLock()
	start := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	leader1, err := lock.Acquire(context.Background(), "p1", 90*time.Second, start)
	if err != nil {
		t.Fatalf("Acquire p1: %v", err)
	}
	if !leader1 {
		t.Fatalf("expected p1 to acquire an unheld lock")
	}

	leader2, err := lock.Acquire(context.Background(), "p2", 90*time.Second, start)
	if err != nil {
		t.Fatalf("Acquire p2: %v", err)
	}
	if leader2 {
		t.Fatalf("expected p2 to fail acquiring a held lock")
	}

	// p1 is killed without Release. Before expiry, p2 still can't acquire.
	beforeExpiry := start.Add(89 * time.Second)
	if leader2, err = lock.Acquire(context.Background(), "p2", 90*time.Second, beforeExpiry); err != nil {
		t.Fatalf("Acquire p2 before expiry: %v", err)
	} else if leader2 {
		t.Fatalf("expected p2 to still fail to acquire before expiry")
	}

	afterExpiry := start.Add(91 * time.Second)
	leader2, err = lock.Acquire(context.Background(), "p2", 90*time.Second, afterExpiry)
	if err != nil {
		t.Fatalf("Acquire p2 after expiry: %v", err)
	}
	if !leader2 {
		t.Fatalf("expected p2 to acquire once p1's lease expired")
	}

	holder, ok, err := lock.Holder(context.Background(), afterExpiry)
	if err != nil {
		t.Fatalf("Holder: %v", err)
	}
	if !ok || holder != "p2" {
		t.Fatalf("expected p2 to be holder, got %q ok=%v", holder, ok)
	}
}

func TestRefresh_LostWhenNotHolder(t *testing.T) {
	lock := NewMemLock()
	start := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	if _, err := lock.Acquire(context.Background(), "p1", 90*time.Second, start); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	outcome, err := lock.Refresh(context.Background(), "p2", 90*time.Second, start.Add(time.Second))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if outcome != Lost {
		t.Fatalf("expected p2's refresh to report Lost, got %v", outcome)
	}

	outcome, err = lock.Refresh(context.Background(), "p1", 90*time.Second, start.Add(time.Second))
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if outcome != Refreshed {
		t.Fatalf("expected p1's refresh to succeed, got %v", outcome)
	}
}

func TestRelease_FreesLockForOthers(t *testing.T) {
	lock := NewMemLock()
	start := time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC)

	if _, err := lock.Acquire(context.Background(), "p1", 90*time.Second, start); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lock.Release(context.Background(), "p1"); err != nil {
		t.Fatalf("Release: %v", err)
	}

	leader, err := lock.Acquire(context.Background(), "p2", 90*time.Second, start)
	if err != nil {
		t.Fatalf("Acquire p2: %v", err)
	}
	if !leader {
		t.Fatalf("expected p2 to acquire the freed lock")
	}
}

func TestLeader_AcquireAndRefreshLoop(t *testing.T) {
	lock := NewMemLock()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	leader := NewLeader(lock, "p1", 90*time.Second, 30*time.Second, fc, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		leader.Run(ctx)
		close(done)
	}()

	waitUntilTrue(t, func() bool { return leader.IsLeader() })

	cancel()
	<-done

	if leader.IsLeader() {
		t.Fatalf("expected IsLeader() to report false after Run returns")
	}
	if _, ok, _ := lock.Holder(context.Background(), fc.Now()); ok {
		t.Fatalf("expected lock to be released when Run returns")
	}
}

func waitUntilTrue(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition never became true")
}
