package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/client"
	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// Polling defaults.
const (
	DefaultPollInterval      = 5 * time.Second
	DefaultPollTimeout       = 2 * time.Hour
	DefaultMaxNetworkRetries = 3
)

// PollerConfig bounds the poll loop. Zero values take the defaults;
// a negative MaxNetworkRetries disables retries.
type PollerConfig struct {
	Interval          time.Duration
	Timeout           time.Duration
	MaxNetworkRetries int
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultPollTimeout
	}
	if c.MaxNetworkRetries == 0 {
		c.MaxNetworkRetries = DefaultMaxNetworkRetries
	}
	if c.MaxNetworkRetries < 0 {
		c.MaxNetworkRetries = 0
	}
	return c
}

// Poller queries a submitted session until it reaches a terminal state,
// the ceiling elapses, or cancellation is requested.
type Poller struct {
	svc   StatusChecker
	cfg   PollerConfig
	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// NewPoller returns a Poller using the wall clock.
func NewPoller(svc StatusChecker, cfg PollerConfig) *Poller {
	return &Poller{
		svc:   svc,
		cfg:   cfg.withDefaults(),
		now:   time.Now,
		after: time.After,
	}
}

// Config returns the effective configuration.
func (p *Poller) Config() PollerConfig {
	return p.cfg
}

// Poll blocks until the session is Completed (nil), Failed (*JobFailedError),
// cancelled (ErrCancelled) or Timeout has elapsed since Poll was called
// (*TimeoutError). Status texts that match no known state end the loop with
// *UnknownStatusError.
// Network errors are retried up to MaxNetworkRetries consecutive times.
//
// The cancellation flag is checked before every sleep and every request,
// and a pending sleep is cut short when cancellation is requested.
func (p *Poller) Poll(ctx context.Context, sess *session.Session) error {
	ctx = logging.WithSession(logging.WithComponent(ctx, "poll"), sess.ID())
	st := pollState{started: p.now()}
	for {
		done, err := p.step(ctx, sess, &st)
		if done {
			return err
		}
	}
}

type pollState struct {
	started  time.Time
	failures int
	calls    int
}

// step runs one iteration: guard, sleep, guard, query, apply.
func (p *Poller) step(ctx context.Context, sess *session.Session, st *pollState) (bool, error) {
	switch sess.State() {
	case session.StateCompleted:
		return true, nil
	case session.StateCancelled:
		return true, ErrCancelled
	}
	if sess.CancelRequested() {
		return true, ErrCancelled
	}
	if elapsed := p.now().Sub(st.started); elapsed >= p.cfg.Timeout {
		return true, &TimeoutError{
			SessionID: sess.ID(),
			Elapsed:   elapsed,
			Limit:     p.cfg.Timeout,
			LastState: sess.State(),
		}
	}

	select {
	case <-p.after(p.cfg.Interval):
	case <-sess.CancelChan():
		return true, ErrCancelled
	case <-ctx.Done():
		return true, ctx.Err()
	}

	if sess.CancelRequested() {
		return true, ErrCancelled
	}

	st.calls++
	text, err := p.svc.Status(ctx, sess.ID())
	if err != nil {
		if client.IsNetworkError(err) && st.failures < p.cfg.MaxNetworkRetries {
			st.failures++
			logging.Warn(ctx, "status check failed, will retry",
				slog.Int("failures", st.failures),
				slog.Int("max_retries", p.cfg.MaxNetworkRetries),
				slog.Any("error", err),
			)
			return false, nil
		}
		return true, fmt.Errorf("check status of session %s: %w", sess.ID(), err)
	}
	st.failures = 0

	// A response that lands after the user interrupted is discarded.
	if sess.CancelRequested() {
		return true, ErrCancelled
	}

	event, ok := MapStatus(text)
	if !ok {
		return true, &UnknownStatusError{SessionID: sess.ID(), Status: strings.TrimSpace(text)}
	}
	logging.Debug(ctx, "status received",
		slog.Int("call", st.calls),
		slog.String("event", event.String()),
	)

	to, err := applyAndLog(ctx, sess, event)
	if err != nil {
		if sess.State() == session.StateCancelled {
			return true, ErrCancelled
		}
		return true, err
	}

	switch to {
	case session.StateCompleted:
		return true, nil
	case session.StateFailed:
		return true, &JobFailedError{SessionID: sess.ID(), Status: strings.TrimSpace(text)}
	default:
		return false, nil
	}
}

// statusMatchers are tried in order; the first matching substring wins.
var statusMatchers = []struct {
	substrings []string
	event      session.Event
}{
	{[]string{"finished"}, session.EventCompleted},
	{[]string{"in the queue", "queued"}, session.EventQueued},
	{[]string{"running"}, session.EventRunning},
	{[]string{"fail", "error", "cancel"}, session.EventFailed},
}

// MapStatus maps a raw status text to a state event, case-insensitively.
// ok is false for texts that match nothing.
func MapStatus(text string) (session.Event, bool) {
	lower := strings.ToLower(text)
	for _, m := range statusMatchers {
		for _, sub := range m.substrings {
			if strings.Contains(lower, sub) {
				return m.event, true
			}
		}
	}
	return 0, false
}
