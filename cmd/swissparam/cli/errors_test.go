package cli

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/lifecycle"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

func TestExitCodeAndDescribe(t *testing.T) {
	t.Parallel()

	netErr := &client.NetworkError{Op: "status", URL: "http://swissparam.test/checksession", Err: errors.New("connection refused")}

	tests := []struct {
		name     string
		err      error
		code     int
		contains string
	}{
		{"nil", nil, ExitOK, ""},
		{"cancelled", lifecycle.ErrCancelled, ExitCancelled, "Session cancelled."},
		{"wrapped cancelled", fmt.Errorf("poll: %w", lifecycle.ErrCancelled), ExitCancelled, "Session cancelled."},
		{"validation", &params.ValidationError{Field: "reaction", Message: `"x" is not one of a, b`}, ExitValidation, "swissparam run --help"},
		{"usage", usageError("expected exactly one session ID, got %d", 0), ExitValidation, "expected exactly one session ID"},
		{"network", netErr, ExitNetwork, "could not reach the SwissParam service"},
		{"server", &client.ServerError{Op: "upload", StatusCode: 500}, ExitServer, "HTTP 500"},
		{"job failed", &lifecycle.JobFailedError{SessionID: "abc123", Status: "failed"}, ExitServer, "failed on the server"},
		{"unknown status", &lifecycle.UnknownStatusError{SessionID: "abc123", Status: "odd"}, ExitServer, "out of date"},
		{"timeout", &lifecycle.TimeoutError{SessionID: "abc123", Elapsed: 2 * time.Hour, Limit: 2 * time.Hour, LastState: session.StateRunning}, ExitTimeout, "swissparam wait abc123"},
		{"download wraps network", &lifecycle.DownloadError{SessionID: "abc123", Path: "results.tar.gz", Err: netErr}, ExitDownload, "swissparam retrieve abc123"},
		{"explicit exit error", &ExitError{Code: ExitDownload, Message: "failed to extract results.tar.gz"}, ExitDownload, "failed to extract"},
		{"internal", errors.New("boom"), ExitInternal, "Error: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.code, ExitCode(tt.err))
			if tt.err == nil {
				assert.Empty(t, Describe(tt.err))
				return
			}
			assert.Contains(t, Describe(tt.err), tt.contains)
		})
	}
}

func TestExitError_Message(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "bad: cause", (&ExitError{Code: 2, Message: "bad", Err: errors.New("cause")}).Error())
	assert.Equal(t, "cause", (&ExitError{Code: 2, Err: errors.New("cause")}).Error())
	assert.Equal(t, "exit status 3", (&ExitError{Code: 3}).Error())
}
