package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/logging"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/session"
)

// Config configures a Controller.
type Config struct {
	// Output is the result archive path. Defaults to DefaultResultFilename.
	Output string
	Poll   PollerConfig
	// CancelTimeout bounds the best-effort cancel request.
	CancelTimeout time.Duration
	// SubmitRetryDelay overrides DefaultSubmitRetryDelay when positive.
	SubmitRetryDelay time.Duration
	// SkipPing disables the reachability check before upload.
	SkipPing bool
	// Store, when set, receives a copy of the session after every change.
	Store *session.StateStore
	// BaseURL is recorded in persisted session state.
	BaseURL string
	// OnChange, when set, is called after every session change.
	OnChange func(session.Snapshot)
	// Exit and Signals are passed to the CancellationHandler.
	Exit    func()
	Signals []os.Signal
}

// Controller runs exactly one session per process: it owns the Session,
// installs the interrupt handler for the session's lifetime, and drives
// submit → poll → retrieve.
type Controller struct {
	svc       Service
	cfg       Config
	submitter *Submitter
	poller    *Poller
	retriever *Retriever

	ran     atomic.Bool
	mu      sync.Mutex
	sess    *session.Session
	handler *CancellationHandler
}

// NewController wires the lifecycle components around svc.
func NewController(svc Service, cfg Config) *Controller {
	if cfg.Output == "" {
		cfg.Output = DefaultResultFilename
	}
	sub := NewSubmitter(svc)
	if cfg.SubmitRetryDelay > 0 {
		sub.WithRetryDelay(cfg.SubmitRetryDelay)
	}
	return &Controller{
		svc:       svc,
		cfg:       cfg,
		submitter: sub,
		poller:    NewPoller(svc, cfg.Poll),
		retriever: NewRetriever(svc),
	}
}

// Session returns the session being driven, or nil before Run.
func (c *Controller) Session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// Interrupt has the same effect as the user pressing Ctrl+C. It is a no-op
// before Run installed the handler.
func (c *Controller) Interrupt(ctx context.Context) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h.Cancel(ctx)
	}
}

// Run submits p and drives the new session to completion, returning the
// path of the downloaded archive.
func (c *Controller) Run(ctx context.Context, p params.Parameters) (string, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return "", ErrAlreadyRan
	}
	sess := session.New(p)
	h := c.attach(ctx, sess)
	defer h.Stop()

	if !c.cfg.SkipPing {
		if err := c.svc.Ping(ctx); err != nil {
			return "", err
		}
	}

	if _, err := c.submitter.Submit(ctx, sess); err != nil {
		return "", c.settle(ctx, h, err)
	}
	return c.finish(ctx, sess, h)
}

// Resume drives a session submitted by an earlier invocation: it polls
// unless the session is already Completed, then retrieves the results.
func (c *Controller) Resume(ctx context.Context, sess *session.Session) (string, error) {
	if !c.ran.CompareAndSwap(false, true) {
		return "", ErrAlreadyRan
	}
	h := c.attach(ctx, sess)
	defer h.Stop()
	return c.finish(ctx, sess, h)
}

func (c *Controller) attach(ctx context.Context, sess *session.Session) *CancellationHandler {
	if c.cfg.Store != nil {
		store, baseURL := c.cfg.Store, c.cfg.BaseURL
		sess.OnChange(func(snap session.Snapshot) {
			if snap.ID == "" {
				return
			}
			if err := store.Save(ctx, session.NewSessionState(snap, baseURL)); err != nil {
				logging.Warn(logging.WithComponent(ctx, "state"), "failed to persist session state",
					slog.String("session_id", snap.ID),
					slog.Any("error", err))
			}
		})
	}

	if c.cfg.OnChange != nil {
		sess.OnChange(c.cfg.OnChange)
	}

	h := NewCancellationHandler(sess, c.svc, CancellationConfig{
		RequestTimeout: c.cfg.CancelTimeout,
		Exit:           c.cfg.Exit,
		Signals:        c.cfg.Signals,
	})
	c.mu.Lock()
	c.sess = sess
	c.handler = h
	c.mu.Unlock()
	h.Start(ctx)
	return h
}

func (c *Controller) finish(ctx context.Context, sess *session.Session, h *CancellationHandler) (string, error) {
	if err := c.poller.Poll(ctx, sess); err != nil {
		return "", c.settle(ctx, h, err)
	}
	// Completed: there is nothing left to cancel on the service.
	h.Stop()
	return c.retriever.Retrieve(ctx, sess, c.cfg.Output)
}

// settle lets an in-progress cancellation finish before the error
// propagates, so the process never exits ahead of the cancel request.
func (c *Controller) settle(ctx context.Context, h *CancellationHandler, err error) error {
	if !errors.Is(err, ErrCancelled) {
		return err
	}
	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout+time.Second)
	defer cancel()
	if werr := h.Wait(waitCtx); werr != nil {
		logging.Warn(ctx, "cancellation did not settle in time", slog.Any("error", werr))
	}
	return ErrCancelled
}
