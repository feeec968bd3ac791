package dispatch

import "fmt"

// ValidationError reports that a job's raw payload did not match its
// handler's declared schema. It is always a permanent failure: the payload
// can never become valid by retrying.
type ValidationError struct {
	JobType string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dispatch: invalid payload for job_type %q: %v", e.JobType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }
