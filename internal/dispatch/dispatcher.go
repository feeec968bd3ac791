package dispatch

import (
	"context"
	"fmt"
)

// Dispatcher validates a job's raw payload against its handler's schema
// and invokes the handler, normalizing panics into a Retryable outcome.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher wraps registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch looks up the handler for jobType, validates raw against its
// schema, and runs it. An unknown job_type or a schema mismatch is always
// Permanent; a panic escaping Run is coerced to Retryable.
func (d *Dispatcher) Dispatch(ctx context.Context, hctx *Context, jobType string, raw []byte) (outcome Outcome) {
	reg, ok := d.registry.Lookup(jobType)
	if !ok {
		return Permanent(fmt.Errorf("dispatch: no handler registered for job_type %q", jobType))
	}

	payload, err := reg.Parse(raw)
	if err != nil {
		return Permanent(&ValidationError{JobType: jobType, Err: err})
	}

	defer func() {
		if r := recover(); r != nil {
			outcome = Retryable(fmt.Errorf("dispatch: handler for job_type %q panicked: %v", jobType, r))
		}
	}()

	return reg.Run(ctx, hctx, payload)
}
