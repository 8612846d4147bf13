package lifecycle

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// CancelledExitCode is the process exit code after a user interrupt.
const CancelledExitCode = 130

// DefaultCancelTimeout bounds the best-effort cancel request.
const DefaultCancelTimeout = 10 * time.Second

// CancellationConfig configures a CancellationHandler.
type CancellationConfig struct {
	// RequestTimeout bounds the cancel request sent to the service.
	RequestTimeout time.Duration
	// Exit terminates the process. Defaults to os.Exit(CancelledExitCode).
	Exit func()
	// Signals to listen for. Defaults to SIGINT and SIGTERM.
	Signals []os.Signal
}

// CancellationHandler turns a user interrupt into an orderly stop of one
// session. On the first interrupt it raises the session's cancel flag,
// sends at most one cancel request for a known session id, and moves the
// session to StateCancelled whatever the service answers. A session that
// has no id yet was never seen by the service: the process exits at once.
//
// A second interrupt while the cancel request is in flight exits the
// process without waiting.
type CancellationHandler struct {
	sess    *session.Session
	svc     Canceler
	timeout time.Duration
	exit    func()
	signals []os.Signal

	sigCh     chan os.Signal
	stopCh    chan struct{}
	done      chan struct{}
	handled   chan struct{}
	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCancellationHandler returns a handler bound to sess. Nothing is
// intercepted until Start is called.
func NewCancellationHandler(sess *session.Session, svc Canceler, cfg CancellationConfig) *CancellationHandler {
	h := &CancellationHandler{
		sess:    sess,
		svc:     svc,
		timeout: cfg.RequestTimeout,
		exit:    cfg.Exit,
		signals: cfg.Signals,
		sigCh:   make(chan os.Signal, 2),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
		handled: make(chan struct{}),
	}
	if h.timeout <= 0 {
		h.timeout = DefaultCancelTimeout
	}
	if h.exit == nil {
		h.exit = func() { os.Exit(CancelledExitCode) }
	}
	if len(h.signals) == 0 {
		h.signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	return h
}

// Start begins intercepting interrupt signals. It is safe to call more than once.
func (h *CancellationHandler) Start(ctx context.Context) {
	h.startOnce.Do(func() {
		h.started.Store(true)
		signal.Notify(h.sigCh, h.signals...)
		go h.loop(ctx)
	})
}

// Stop restores default signal handling. It waits for a cancel that is
// already in progress.
func (h *CancellationHandler) Stop() {
	if !h.started.Load() {
		return
	}
	h.stopOnce.Do(func() {
		signal.Stop(h.sigCh)
		close(h.stopCh)
	})
	<-h.done
}

// Wait blocks until a cancel that was triggered has finished, or ctx ends.
func (h *CancellationHandler) Wait(ctx context.Context) error {
	select {
	case <-h.handled:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *CancellationHandler) loop(ctx context.Context) {
	defer close(h.done)
	ctx = logging.WithComponent(ctx, "cancel")

	var cancelDone chan struct{}
	for {
		select {
		case sig := <-h.sigCh:
			if cancelDone != nil {
				logging.Warn(ctx, "second interrupt, exiting without waiting for the service",
					slog.String("signal", sig.String()))
				h.exit()
				return
			}
			logging.Info(ctx, "interrupt received", slog.String("signal", sig.String()))
			cancelDone = make(chan struct{})
			go func(done chan struct{}) {
				defer close(done)
				h.Cancel(ctx)
			}(cancelDone)
		case <-cancelDone:
			return
		case <-h.stopCh:
			if cancelDone != nil {
				<-cancelDone
			}
			return
		}
	}
}

// Cancel performs the cancellation sequence. Only the first call has any
// effect; a session that already reached a terminal state is left alone.
func (h *CancellationHandler) Cancel(ctx context.Context) {
	if h.sess.State().IsTerminal() {
		return
	}
	if !h.sess.RequestCancel() {
		return
	}
	defer close(h.handled)

	id := h.sess.ID()
	if id == "" {
		_, _ = applyAndLog(ctx, h.sess, session.EventCancelled) //nolint:errcheck // exiting regardless
		logging.Info(ctx, "cancelled before submission, nothing to cancel remotely")
		h.exit()
		return
	}

	ctx = logging.WithSession(ctx, id)
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()
	if err := h.svc.Cancel(reqCtx, id); err != nil {
		logging.Warn(ctx, "cancel request failed, the job may keep running on the server",
			slog.Any("error", err))
	} else {
		logging.Info(ctx, "cancel request sent")
	}

	if _, err := applyAndLog(ctx, h.sess, session.EventCancelled); err != nil {
		logging.Debug(ctx, "session finished before cancel applied",
			slog.String("state", string(h.sess.State())))
	}
}
