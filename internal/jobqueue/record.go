// Package jobqueue implements the persistent job record, its DynamoDB-backed
// store, the deduplication index, and the retry policy described in
// Companion Memory's scheduler core.
package jobqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/eykd/companion-memory/internal/consts"
)

// Status is one of the job lifecycle states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusDeadLetter Status = "dead_letter"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status is one from which no further
// transition is permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusDeadLetter, StatusCancelled:
		return true
	default:
		return false
	}
}

// JobRecord is the persistent representation of a single scheduled unit of
// work.
type JobRecord struct {
	JobID         uuid.UUID
	JobType       string
	Payload       []byte // raw JSON, validated against the handler's schema at dispatch time
	ScheduledFor  time.Time
	Status        Status
	Attempts      int
	LockedBy      string
	LockExpiresAt time.Time // zero value means unset
	LastError     string
	CreatedAt     time.Time
	CompletedAt   time.Time // zero value means unset

	// LogicalID and Bucket are empty unless the job was scheduled through a
	// deduplicated Schedule call; they are carried on the record purely for
	// operator visibility, not used by JobStore logic.
	LogicalID string
	Bucket    string
}

// NewJobID mints a time-ordered 128-bit job identifier.
func NewJobID() (uuid.UUID, error) {
	id, err := uuid.NewUUID()
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("generate job id: %w", err)
	}
	return id, nil
}

// SortKey encodes the fixed-width, lexicographically sortable sort key for
// a job record: scheduled#<ISO-8601 UTC microsecond instant>#<job_id>.
func SortKey(scheduledFor time.Time, jobID uuid.UUID) string {
	return "scheduled#" + scheduledFor.UTC().Format(consts.SortKeyTimeLayout) + "#" + jobID.String()
}

// QueryUpperBound returns the sort-key upper bound for a QueryDue(now, ...)
// range scan: "scheduled#<now>#~". '~' sorts after any job_id character, so
// the bound is inclusive of every job scheduled at exactly `now`.
func QueryUpperBound(now time.Time) string {
	return "scheduled#" + now.UTC().Format(consts.SortKeyTimeLayout) + "#~"
}

// ParseSortKey extracts the scheduled_for instant and job_id encoded in a
// job sort key. Only tests call it: neither store keys its records this
// way, and the DynamoDB store keeps ScheduledFor as its own attribute.
func ParseSortKey(sk string) (time.Time, uuid.UUID, error) {
	const prefix = "scheduled#"
	if len(sk) < len(prefix) {
		return time.Time{}, uuid.UUID{}, fmt.Errorf("malformed sort key: %q", sk)
	}
	rest := sk[len(prefix):]
	// rest = "<timestamp>#<job_id>"
	tsLen := len(consts.SortKeyTimeLayout)
	if len(rest) < tsLen+1 {
		return time.Time{}, uuid.UUID{}, fmt.Errorf("malformed sort key: %q", sk)
	}
	tsPart := rest[:tsLen]
	idPart := rest[tsLen+1:]

	ts, err := time.Parse(consts.SortKeyTimeLayout, tsPart)
	if err != nil {
		return time.Time{}, uuid.UUID{}, fmt.Errorf("parse sort key timestamp: %w", err)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return time.Time{}, uuid.UUID{}, fmt.Errorf("parse sort key job id: %w", err)
	}
	return ts.UTC(), id, nil
}
