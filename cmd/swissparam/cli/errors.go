package cli

import (
	"errors"
	"fmt"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitInternal   = 1
	ExitValidation = 2
	ExitNetwork    = 3
	ExitServer     = 4
	ExitTimeout    = 5
	ExitDownload   = 6
	ExitCancelled  = lifecycle.CancelledExitCode
)

// ExitError carries an explicit exit code and user-facing message.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return fmt.Sprintf("exit status %d", e.Code)
	}
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(format string, args ...any) error {
	return &ExitError{Code: ExitValidation, Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps err to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		exitErr     *ExitError
		validErr    *params.ValidationError
		downloadErr *lifecycle.DownloadError
		timeoutErr  *lifecycle.TimeoutError
		failedErr   *lifecycle.JobFailedError
		unknownErr  *lifecycle.UnknownStatusError
		serverErr   *client.ServerError
		networkErr  *client.NetworkError
	)
	switch {
	case errors.As(err, &exitErr):
		return exitErr.Code
	case errors.Is(err, lifecycle.ErrCancelled):
		return ExitCancelled
	case errors.As(err, &validErr):
		return ExitValidation
	// DownloadError wraps transport errors, so it is checked first.
	case errors.As(err, &downloadErr):
		return ExitDownload
	case errors.As(err, &timeoutErr):
		return ExitTimeout
	case errors.As(err, &failedErr), errors.As(err, &unknownErr), errors.As(err, &serverErr):
		return ExitServer
	case errors.As(err, &networkErr):
		return ExitNetwork
	default:
		return ExitInternal
	}
}

// Describe turns err into the message printed to the user.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	var (
		exitErr     *ExitError
		validErr    *params.ValidationError
		downloadErr *lifecycle.DownloadError
		timeoutErr  *lifecycle.TimeoutError
		failedErr   *lifecycle.JobFailedError
		unknownErr  *lifecycle.UnknownStatusError
		serverErr   *client.ServerError
		networkErr  *client.NetworkError
	)
	switch {
	case errors.Is(err, lifecycle.ErrCancelled):
		return "Session cancelled."
	case errors.As(err, &validErr):
		return fmt.Sprintf("Error: %s\nRun 'swissparam run --help' for the accepted values.", validErr.Error())
	case errors.As(err, &downloadErr):
		return fmt.Sprintf("Error: could not save the results of session %s: %v\nRetry with: swissparam retrieve %s",
			downloadErr.SessionID, downloadErr.Err, downloadErr.SessionID)
	case errors.As(err, &timeoutErr):
		return fmt.Sprintf("Error: gave up waiting after %s, session %s is still %s on the server.\nResume with: swissparam wait %s",
			timeoutErr.Limit, timeoutErr.SessionID, timeoutErr.LastState, timeoutErr.SessionID)
	case errors.As(err, &failedErr):
		return fmt.Sprintf("Error: the parameterization of session %s failed on the server: %s",
			failedErr.SessionID, failedErr.Status)
	case errors.As(err, &unknownErr):
		return fmt.Sprintf("Error: the server reported an unrecognized status for session %s: %q\nThis client may be out of date.",
			unknownErr.SessionID, unknownErr.Status)
	case errors.As(err, &exitErr):
		return "Error: " + exitErr.Error()
	case errors.As(err, &serverErr):
		return "Error: the SwissParam service rejected the request (" + serverErr.Error() + ")"
	case errors.As(err, &networkErr):
		return fmt.Sprintf("Error: could not reach the SwissParam service at %s: %v\nCheck your connection or --base-url.",
			networkErr.URL, networkErr.Err)
	default:
		return "Error: " + err.Error()
	}
}
