// Package session provides the state of a single SwissParam parameterization
// job as seen by this process.
//
// A Session is created empty, receives its id once the upload is accepted,
// and then only moves forward through the state machine in phase.go. The
// poll loop and the interrupt handler share one *Session: it is the only
// state the two goroutines have in common.
//
// Sessions are also persisted as small JSON documents (see StateStore) so
// that a job that outlived the local polling ceiling can be resumed later.
package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/validation"
)

// ErrIDAlreadySet is returned when AssignID is called a second time.
var ErrIDAlreadySet = errors.New("session id already assigned")

// Session tracks one remote job. All methods are safe for concurrent use.
type Session struct {
	mu          sync.Mutex
	id          string
	state       State
	params      params.Parameters
	submittedAt time.Time
	resultPath  string
	observers   []func(Snapshot)

	cancelRequested atomic.Bool
	cancelOnce      sync.Once
	cancelCh        chan struct{}
}

// Snapshot is a consistent copy of a session's fields.
type Snapshot struct {
	ID          string
	State       State
	Params      params.Parameters
	SubmittedAt time.Time
	ResultPath  string
}

// New returns an empty session in StateCreated.
func New(p params.Parameters) *Session {
	return &Session{
		state:    StateCreated,
		params:   p,
		cancelCh: make(chan struct{}),
	}
}

// Resume rebuilds a session that was submitted by an earlier invocation.
// state must be non-terminal unless it is StateCompleted, which still allows
// retrieving results.
func Resume(id string, state State, submittedAt time.Time) (*Session, error) {
	if err := validation.ValidateSessionID(id); err != nil {
		return nil, err
	}
	if state == StateCreated || state == StateFailed || state == StateCancelled {
		return nil, fmt.Errorf("cannot resume session %s in state %s", id, state)
	}
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}
	return &Session{
		id:          id,
		state:       state,
		submittedAt: submittedAt,
		cancelCh:    make(chan struct{}),
	}, nil
}

// OnChange registers fn to be called with a snapshot after every state,
// id or result path change. fn runs on the goroutine making the change.
func (s *Session) OnChange(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Parameters() params.Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

func (s *Session) SubmittedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submittedAt
}

func (s *Session) ResultPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resultPath
}

// Snapshot returns a copy of all fields taken under one lock.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		ID:          s.id,
		State:       s.state,
		Params:      s.params,
		SubmittedAt: s.submittedAt,
		ResultPath:  s.resultPath,
	}
}

// AssignID records the id handed out by the service and moves the session
// to StateSubmitted. It fails if an id was already assigned or if the
// session was cancelled in the meantime.
func (s *Session) AssignID(id string, at time.Time) error {
	if err := validation.ValidateSessionID(id); err != nil {
		return err
	}

	s.mu.Lock()
	if s.id != "" {
		s.mu.Unlock()
		return ErrIDAlreadySet
	}
	to, err := Transition(s.state, EventSubmitted)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.id = id
	s.state = to
	s.submittedAt = at
	snap, observers := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(observers, snap)
	return nil
}

// Apply runs event through the state machine. It returns the previous and
// new state; on error the state is unchanged.
func (s *Session) Apply(event Event) (from, to State, err error) {
	s.mu.Lock()
	from = s.state
	to, err = Transition(from, event)
	if err != nil {
		s.mu.Unlock()
		return from, from, err
	}
	s.state = to
	snap, observers := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	if from != to {
		notify(observers, snap)
	}
	return from, to, nil
}

// SetResultPath records where the results were written. Only a completed
// session has results.
func (s *Session) SetResultPath(path string) error {
	if path == "" {
		return errors.New("result path is empty")
	}
	s.mu.Lock()
	if s.state != StateCompleted {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("session is %s, not %s", state, StateCompleted)
	}
	s.resultPath = path
	snap, observers := s.snapshotLocked(), s.observers
	s.mu.Unlock()

	notify(observers, snap)
	return nil
}

// RequestCancel raises the cancellation flag. It returns true only for the
// call that actually raised it.
func (s *Session) RequestCancel() bool {
	first := false
	s.cancelOnce.Do(func() {
		s.cancelRequested.Store(true)
		close(s.cancelCh)
		first = true
	})
	return first
}

// CancelRequested reports whether RequestCancel has been called.
func (s *Session) CancelRequested() bool {
	return s.cancelRequested.Load()
}

// CancelChan is closed when cancellation is requested, so waits can be
// interrupted without polling the flag.
func (s *Session) CancelChan() <-chan struct{} {
	return s.cancelCh
}

func notify(observers []func(Snapshot), snap Snapshot) {
	for _, fn := range observers {
		fn(snap)
	}
}
