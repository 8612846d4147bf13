package session

//go:generate go run gen_state_diagram.go

import (
	"errors"
	"fmt"
	"strings"
)

// State is the lifecycle state of a parameterization session.
type State string

const (
	// StateCreated is the initial state before anything was sent.
	StateCreated State = "created"
	// StateSubmitted means the service accepted the upload and assigned an id.
	StateSubmitted State = "submitted"
	// StateQueued means the job waits for a worker on the service side.
	StateQueued State = "queued"
	// StateRunning means the service is computing parameters.
	StateRunning State = "running"
	// StateCompleted is terminal: results are ready for download.
	StateCompleted State = "completed"
	// StateFailed is terminal: the service could not compute results.
	StateFailed State = "failed"
	// StateCancelled is terminal: the user interrupted the session.
	StateCancelled State = "cancelled"
)

// AllStates lists every state in lifecycle order.
var AllStates = []State{
	StateCreated, StateSubmitted, StateQueued, StateRunning,
	StateCompleted, StateFailed, StateCancelled,
}

// IsTerminal reports whether no transition leaves s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// ParseState converts a persisted state name back into a State.
func ParseState(s string) (State, error) {
	for _, st := range AllStates {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown session state %q", s)
}

// Event drives a state transition.
type Event int

const (
	EventSubmitted Event = iota
	EventQueued
	EventRunning
	EventCompleted
	EventFailed
	EventCancelled
)

var allEvents = []Event{EventSubmitted, EventQueued, EventRunning, EventCompleted, EventFailed, EventCancelled}

func (e Event) String() string {
	switch e {
	case EventSubmitted:
		return "Submitted"
	case EventQueued:
		return "Queued"
	case EventRunning:
		return "Running"
	case EventCompleted:
		return "Completed"
	case EventFailed:
		return "Failed"
	case EventCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// ErrInvalidTransition is returned when an event is not allowed in the current state.
var ErrInvalidTransition = errors.New("invalid session state transition")

// transitions is the complete state machine. Queued and Running may repeat
// and alternate because every poll reports the current remote status.
var transitions = map[State]map[Event]State{
	StateCreated: {
		EventSubmitted: StateSubmitted,
		EventCancelled: StateCancelled,
	},
	StateSubmitted: {
		EventQueued:    StateQueued,
		EventRunning:   StateRunning,
		EventCompleted: StateCompleted,
		EventFailed:    StateFailed,
		EventCancelled: StateCancelled,
	},
	StateQueued: {
		EventQueued:    StateQueued,
		EventRunning:   StateRunning,
		EventCompleted: StateCompleted,
		EventFailed:    StateFailed,
		EventCancelled: StateCancelled,
	},
	StateRunning: {
		EventQueued:    StateQueued,
		EventRunning:   StateRunning,
		EventCompleted: StateCompleted,
		EventFailed:    StateFailed,
		EventCancelled: StateCancelled,
	},
}

// Transition returns the state reached from `from` on event, or
// ErrInvalidTransition. It has no side effects.
func Transition(from State, event Event) (State, error) {
	to, ok := transitions[from][event]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, from, event)
	}
	return to, nil
}

// MermaidDiagram renders the transition table as a Mermaid state diagram.
func MermaidDiagram() string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&sb, "    [*] --> %s\n", StateCreated)
	for _, from := range AllStates {
		for _, ev := range allEvents {
			to, ok := transitions[from][ev]
			if !ok {
				continue
			}
			fmt.Fprintf(&sb, "    %s --> %s : %s\n", from, to, ev)
		}
	}
	for _, st := range AllStates {
		if st.IsTerminal() {
			fmt.Fprintf(&sb, "    %s --> [*]\n", st)
		}
	}
	return sb.String()
}
