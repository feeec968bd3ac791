// Package logstore defines the LogStore port the daily_summary handler
// reads from; it is an external collaborator whose
// ingestion path (the HTTP endpoint that accepts raw activity log entries)
// is out of this core's scope. The DynamoDB implementation here is a
// reference client against the same table the job queue uses, on a
// distinct logical partition.
package logstore

import (
	"context"
	"time"
)

// Store returns a user's raw log entries for a window, in chronological
// order.
type Store interface {
	Entries(ctx context.Context, userID string, from, to time.Time) ([]string, error)
}
