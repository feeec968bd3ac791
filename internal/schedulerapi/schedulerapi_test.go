package schedulerapi

import (
	"context"
	"testing"
	"time"

	"github.com/eykd/companion-memory/internal/clock"
	"github.com/eykd/companion-memory/internal/jobqueue"
)

type summaryPayload struct {
	UserID string `json:"user_id"`
}

// S4: Schedule daily_summary with logical_id daily_summary:U1 bucket
// 2025-07-14 twice returns scheduled then deduplicated; job count stays 1.
func TestSchedule_DedupIdempotence(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	dedup := jobqueue.NewMemDedupIndex(fc.Now)
	api := New(store, dedup, fc)

	when := fc.Now().Add(7 * time.Hour)
	result1, err := api.Schedule(context.Background(), "daily_summary", summaryPayload{UserID: "U1"}, when, "daily_summary:U1", "2025-07-14")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	result2, err := api.Schedule(context.Background(), "daily_summary", summaryPayload{UserID: "U1"}, when, "daily_summary:U1", "2025-07-14")
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}

	if result1 != Scheduled {
		t.Fatalf("expected first call to schedule, got %v", result1)
	}
	if result2 != Deduplicated {
		t.Fatalf("expected second call to dedup, got %v", result2)
	}

	due, err := store.QueryDue(context.Background(), when.Add(time.Second), 25)
	if err != nil {
		t.Fatalf("QueryDue: %v", err)
	}
	if len(due) != 1 {
		t.Fatalf("expected exactly one job in store, got %d", len(due))
	}
}

func TestSchedule_WithoutLogicalIDAlwaysInserts(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	dedup := jobqueue.NewMemDedupIndex(fc.Now)
	api := New(store, dedup, fc)

	when := fc.Now()
	for i := 0; i < 3; i++ {
		result, err := api.Schedule(context.Background(), "heartbeat_event", map[string]string{"uuid": "x"}, when, "", "")
		if err != nil {
			t.Fatalf("Schedule: %v", err)
		}
		if result != Scheduled {
			t.Fatalf("expected scheduled, got %v", result)
		}
	}

	due, err := store.QueryDue(context.Background(), when, 25)
	if err != nil {
		t.Fatalf("QueryDue: %v", err)
	}
	if len(due) != 3 {
		t.Fatalf("expected 3 independent jobs, got %d", len(due))
	}
}

func TestSchedule_RejectsEmptyJobType(t *testing.T) {
	store := jobqueue.NewMemStore()
	fc := clock.NewFake(time.Date(2025, 7, 14, 0, 0, 0, 0, time.UTC))
	dedup := jobqueue.NewMemDedupIndex(fc.Now)
	api := New(store, dedup, fc)

	if _, err := api.Schedule(context.Background(), "", nil, fc.Now(), "", ""); err == nil {
		t.Fatalf("expected error for empty job_type")
	}
}
