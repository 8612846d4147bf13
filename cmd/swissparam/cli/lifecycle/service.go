// Package lifecycle drives one SwissParam session through
// submit → poll → retrieve, with user cancellation at any point.
package lifecycle

import (
	"context"
	"log/slog"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// Uploader submits new jobs.
type Uploader interface {
	Upload(ctx context.Context, p params.Parameters) (string, error)
}

// StatusChecker reads the status text of a job.
type StatusChecker interface {
	Status(ctx context.Context, sessionID string) (string, error)
}

// Canceler asks the service to stop a job.
type Canceler interface {
	Cancel(ctx context.Context, sessionID string) error
}

// Downloader opens the result archive of a completed job.
type Downloader interface {
	Download(ctx context.Context, sessionID string) (*client.Archive, error)
}

// Service is everything the Controller needs from the transport.
// *client.Client implements it.
type Service interface {
	Ping(ctx context.Context) error
	Uploader
	StatusChecker
	Canceler
	Downloader
}

var _ Service = (*client.Client)(nil)

// applyAndLog is the single entry point for state changes made by this
// package, so every transition is logged the same way.
func applyAndLog(ctx context.Context, sess *session.Session, event session.Event) (session.State, error) {
	from, to, err := sess.Apply(event)
	logCtx := logging.WithComponent(ctx, "session")
	if err != nil {
		logging.Debug(logCtx, "transition rejected",
			slog.String("event", event.String()),
			slog.String("state", string(from)),
			slog.Any("error", err),
		)
		return from, err
	}

	if from != to {
		logging.Info(logCtx, "state transition",
			slog.String("event", event.String()),
			slog.String("from", string(from)),
			slog.String("to", string(to)),
		)
	} else {
		logging.Debug(logCtx, "state unchanged",
			slog.String("event", event.String()),
			slog.String("state", string(to)),
		)
	}
	return to, nil
}
