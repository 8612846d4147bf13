package lifecycle

import (
	"errors"
	"fmt"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// ErrCancelled is returned when the user interrupted the session. It is not
// a failure: the CLI exits with CancelledExitCode.
var ErrCancelled = errors.New("session cancelled by user")

// ErrAlreadyRan is returned when a Controller is asked to drive a second session.
var ErrAlreadyRan = errors.New("controller already drove a session in this process")

// TimeoutError means the polling ceiling was reached. The job may still
// finish on the service; LastState is the last status observed.
type TimeoutError struct {
	SessionID string
	Elapsed   time.Duration
	Limit     time.Duration
	LastState session.State
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("session %s still %s after %s (limit %s)",
		e.SessionID, e.LastState, e.Elapsed.Round(time.Second), e.Limit)
}

// UnknownStatusError carries a status text that maps to no known state.
type UnknownStatusError struct {
	SessionID string
	Status    string
}

func (e *UnknownStatusError) Error() string {
	return fmt.Sprintf("session %s: unrecognized status %q", e.SessionID, e.Status)
}

// JobFailedError means the service reported the job as failed.
type JobFailedError struct {
	SessionID string
	Status    string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("session %s failed on the server: %s", e.SessionID, e.Status)
}

// DownloadError covers every way retrieving the result archive can fail:
// error status, truncated transfer, or a failed local write.
type DownloadError struct {
	SessionID string
	Path      string
	Err       error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("retrieve results of session %s to %s: %v", e.SessionID, e.Path, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }
