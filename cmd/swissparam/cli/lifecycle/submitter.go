package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
	"github.com/swissparam/cli/cmd/swissparam/cli/validation"
)

// DefaultSubmitRetryDelay is the pause before the single upload retry.
const DefaultSubmitRetryDelay = 2 * time.Second

// Submitter uploads a molecule and records the session id the service hands back.
type Submitter struct {
	svc        Uploader
	retryDelay time.Duration
	now        func() time.Time
}

// NewSubmitter returns a Submitter with the default retry delay.
func NewSubmitter(svc Uploader) *Submitter {
	return &Submitter{svc: svc, retryDelay: DefaultSubmitRetryDelay, now: time.Now}
}

// WithRetryDelay overrides the pause before retrying a failed connection.
func (s *Submitter) WithRetryDelay(d time.Duration) *Submitter {
	s.retryDelay = d
	return s
}

// Submit uploads the session's parameters and assigns the returned id.
// A connection that could not be established is retried once; any other
// failure is returned as is. On success the session is StateSubmitted.
func (s *Submitter) Submit(ctx context.Context, sess *session.Session) (string, error) {
	ctx = logging.WithComponent(ctx, "submit")
	p := sess.Parameters()

	var body string
	var err error
	for attempt := 1; attempt <= 2; attempt++ {
		if sess.CancelRequested() {
			return "", ErrCancelled
		}
		start := time.Now()
		body, err = s.svc.Upload(ctx, p)
		logging.LogDuration(ctx, slog.LevelDebug, "upload finished", start,
			slog.Int("attempt", attempt),
			slog.Bool("ok", err == nil),
		)
		if err == nil || attempt == 2 || !client.IsDialError(err) {
			break
		}
		logging.Warn(ctx, "could not reach service, retrying upload",
			slog.Duration("delay", s.retryDelay),
			slog.Any("error", err),
		)
		select {
		case <-time.After(s.retryDelay):
		case <-sess.CancelChan():
			return "", ErrCancelled
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", p.Filename, err)
	}

	id, err := ParseSessionID(body)
	if err != nil {
		return "", &client.ServerError{Op: "upload", StatusCode: 200, Message: err.Error()}
	}

	if err := sess.AssignID(id, s.now()); err != nil {
		if errors.Is(err, session.ErrInvalidTransition) && sess.State() == session.StateCancelled {
			return "", ErrCancelled
		}
		return "", err
	}
	logging.Info(logging.WithSession(ctx, id), "session submitted",
		slog.String("mode", string(p.Mode)),
		slog.String("file", p.Filename),
	)
	return id, nil
}

// ParseSessionID extracts the session id from the start endpoint's response.
// The service answers with a results URL ending in "sessionNumber=<id>",
// sometimes quoted; the id is whatever follows the last '='.
func ParseSessionID(body string) (string, error) {
	raw := body
	if i := strings.LastIndex(raw, "="); i >= 0 {
		raw = raw[i+1:]
	}
	id := strings.Trim(strings.TrimSpace(raw), `"'`)
	id = strings.TrimSpace(id)
	if err := validation.ValidateSessionID(id); err != nil {
		return "", fmt.Errorf("response did not contain a session id (%q): %w", truncate(body, 120), err)
	}
	return id, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
