package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/gg/gmap"

	"github.com/eykd/companion-memory/internal/clock"
)

// ErrorReporter is the minimal surface handlers and the dispatcher use to
// report failures; the concrete adapter lives outside this package to keep
// dispatch free of logging dependencies.
type ErrorReporter interface {
	Report(ctx context.Context, err error, fields map[string]any)
}

// ScheduleFunc lets a running handler enqueue follow-up jobs through the
// Scheduling API without dispatch importing it directly.
type ScheduleFunc func(ctx context.Context, jobType string, payload any, when time.Time, logicalID, bucket string) (string, error)

// Context is handed to every running handler. Extra carries adapter-specific
// collaborators (chat client, LLM client, log store, user settings) keyed
// by a name the handler agrees on with its caller.
type Context struct {
	Clock         clock.Clock
	ErrorReporter ErrorReporter
	Schedule      ScheduleFunc
	Extra         map[string]any
}

// ParsePayload turns a job's raw JSON payload into the typed value a
// handler's Run expects, returning an error if it does not match the
// handler's schema.
type ParsePayload func(raw []byte) (any, error)

// RunFunc is a handler's entry point, invoked with the already-validated
// payload.
type RunFunc func(ctx context.Context, hctx *Context, payload any) Outcome

// Registration is the (job_type, payload_schema, run) tuple a handler
// declares at process init.
type Registration struct {
	JobType string
	Parse   ParsePayload
	Run     RunFunc
}

// Registry maps job_type to its Registration. Registration happens during
// process init; Dispatch is safe for concurrent use once handlers are
// registered.
type Registry struct {
	mu    sync.RWMutex
	byJob map[string]Registration
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byJob: make(map[string]Registration)}
}

// Register adds a handler for job_type. It panics on a duplicate
// registration: two handlers for the same job_type is a programming error
// caught at init, not a runtime condition to recover from.
func (r *Registry) Register(reg Registration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byJob[reg.JobType]; exists {
		panic(fmt.Sprintf("dispatch: duplicate registration for job_type %q", reg.JobType))
	}
	r.byJob[reg.JobType] = reg
}

// Lookup returns the Registration for job_type, if any.
func (r *Registry) Lookup(jobType string) (Registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byJob[jobType]
	return reg, ok
}

// JobTypes returns every registered job_type, in no particular order. Used
// by the web subcommand's /health endpoint.
func (r *Registry) JobTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gmap.ToSlice(r.byJob, func(jobType string, _ Registration) string { return jobType })
}
