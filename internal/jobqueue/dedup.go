package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReserveOutcome reports whether a TryReserve call won the reservation or
// found one already in place for the same (logical_id, bucket).
type ReserveOutcome int

const (
	Reserved ReserveOutcome = iota
	AlreadyReserved
)

// DeduplicationIndex makes scheduling idempotent: at most one job record is
// ever inserted for a given (logical_id, bucket) pair.
type DeduplicationIndex interface {
	// TryReserve conditionally claims (logicalID, bucket) on behalf of
	// jobID. The caller must insert the job record after a successful
	// reservation.
	TryReserve(ctx context.Context, logicalID, bucket string, jobID uuid.UUID) (ReserveOutcome, error)

	// ReservedJob returns the job_id pointed to by an existing reservation.
	// schedulerapi.API.Schedule does not call it: a reservation whose Insert
	// never happened still makes later Schedule calls report Deduplicated.
	ReservedJob(ctx context.Context, logicalID, bucket string) (uuid.UUID, bool, error)
}

type dedupEntry struct {
	jobID      uuid.UUID
	reservedAt time.Time
}

// MemDedupIndex is an in-memory DeduplicationIndex, the default test and
// single-process backend.
type MemDedupIndex struct {
	mu      sync.Mutex
	entries map[string]dedupEntry
	clock   func() time.Time
}

var _ DeduplicationIndex = (*MemDedupIndex)(nil)

// NewMemDedupIndex creates an empty MemDedupIndex. now is used to stamp
// reserved_at; pass time.Now if no injected clock is available.
func NewMemDedupIndex(now func() time.Time) *MemDedupIndex {
	return &MemDedupIndex{entries: make(map[string]dedupEntry), clock: now}
}

func dedupKey(logicalID, bucket string) string {
	return logicalID + "\x00" + bucket
}

func (d *MemDedupIndex) TryReserve(_ context.Context, logicalID, bucket string, jobID uuid.UUID) (ReserveOutcome, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := dedupKey(logicalID, bucket)
	if _, exists := d.entries[key]; exists {
		return AlreadyReserved, nil
	}

	d.entries[key] = dedupEntry{jobID: jobID, reservedAt: d.clock()}
	return Reserved, nil
}

func (d *MemDedupIndex) ReservedJob(_ context.Context, logicalID, bucket string) (uuid.UUID, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[dedupKey(logicalID, bucket)]
	if !ok {
		return uuid.UUID{}, false, nil
	}
	return entry.jobID, true, nil
}
