// Package dispatch implements the HandlerRegistry and Dispatcher: the typed
// mapping from job_type to payload schema and handler, and the sum-type
// outcome a handler reports back to the Worker.
package dispatch

// Kind distinguishes the three ways a handler invocation can end.
type Kind int

const (
	KindOK Kind = iota
	KindRetryable
	KindPermanent
)

// Outcome is the small sum type {ok, retryable(err), permanent(err)} a
// handler's run function returns. Handlers never raise control-flow
// exceptions; a panic that does escape is caught at the dispatcher boundary
// and coerced to Retryable.
type Outcome struct {
	Kind Kind
	Err  error
}

// OK reports a handler ran to completion with no error.
func OK() Outcome { return Outcome{Kind: KindOK} }

// Retryable reports a transient failure eligible for RetryPolicy.
func Retryable(err error) Outcome { return Outcome{Kind: KindRetryable, Err: err} }

// Permanent reports a failure that retrying cannot fix.
func Permanent(err error) Outcome { return Outcome{Kind: KindPermanent, Err: err} }
