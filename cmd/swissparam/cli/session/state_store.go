package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/swissparam/cli/cmd/swissparam/cli/jsonutil"
	"github.com/swissparam/cli/cmd/swissparam/cli/params"
	"github.com/swissparam/cli/cmd/swissparam/cli/validation"
)

// SessionStateDirName is the state directory, relative to the working directory.
const SessionStateDirName = ".swissparam/sessions"

// SessionState is the persisted form of a session.
// Stored in .swissparam/sessions/{session_id}.json.
type SessionState struct {
	SessionID   string    `json:"session_id"`
	State       State     `json:"state"`
	BaseURL     string    `json:"base_url,omitempty"`
	Mode        string    `json:"mode,omitempty"`
	Filename    string    `json:"filename,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ResultPath  string    `json:"result_path,omitempty"`
}

// NewSessionState converts a snapshot into its persisted form.
func NewSessionState(snap Snapshot, baseURL string) *SessionState {
	return &SessionState{
		SessionID:   snap.ID,
		State:       snap.State,
		BaseURL:     baseURL,
		Mode:        string(snap.Params.Mode),
		Filename:    snap.Params.Filename,
		SubmittedAt: snap.SubmittedAt,
		UpdatedAt:   time.Now().UTC(),
		ResultPath:  snap.ResultPath,
	}
}

// ParamsMode returns the recorded parameterization mode.
func (s *SessionState) ParamsMode() params.Mode {
	return params.Mode(s.Mode)
}

// StateStore reads and writes SessionState files in one directory.
type StateStore struct {
	dir string
}

// NewStateStore returns a store rooted at SessionStateDirName in the
// current working directory.
func NewStateStore(_ context.Context) (*StateStore, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return NewStateStoreWithDir(filepath.Join(wd, SessionStateDirName)), nil
}

// NewStateStoreWithDir returns a store rooted at dir.
func NewStateStoreWithDir(dir string) *StateStore {
	return &StateStore{dir: dir}
}

// Dir returns the directory the store writes to.
func (s *StateStore) Dir() string {
	return s.dir
}

func (s *StateStore) path(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

// Save writes state atomically.
func (s *StateStore) Save(_ context.Context, state *SessionState) error {
	// Validate session ID to prevent path traversal
	if err := validation.ValidateSessionID(state.SessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return fmt.Errorf("failed to create session state directory: %w", err)
	}

	data, err := jsonutil.MarshalIndentWithNewline(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session state: %w", err)
	}

	// Atomic write: write to temp file, then rename
	stateFile := s.path(state.SessionID)
	tmpFile := stateFile + ".tmp"
	if err := os.WriteFile(tmpFile, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session state: %w", err)
	}
	if err := os.Rename(tmpFile, stateFile); err != nil {
		return fmt.Errorf("failed to rename session state file: %w", err)
	}
	return nil
}

// Load returns the state for sessionID, or (nil, nil) when none is recorded.
func (s *StateStore) Load(_ context.Context, sessionID string) (*SessionState, error) {
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return nil, fmt.Errorf("invalid session ID: %w", err)
	}
	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil //nolint:nilnil // missing state is not an error
		}
		return nil, fmt.Errorf("failed to read session state: %w", err)
	}
	var state SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to parse session state %s: %w", sessionID, err)
	}
	return &state, nil
}

// List returns all recorded sessions, most recently updated first.
// Unreadable files are skipped.
func (s *StateStore) List(ctx context.Context) ([]*SessionState, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read session state directory: %w", err)
	}

	var states []*SessionState
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		state, err := s.Load(ctx, strings.TrimSuffix(name, ".json"))
		if err != nil || state == nil {
			continue
		}
		states = append(states, state)
	}
	sort.SliceStable(states, func(i, j int) bool {
		return states[i].UpdatedAt.After(states[j].UpdatedAt)
	})
	return states, nil
}

// Remove deletes the state for sessionID. Missing files are not an error.
func (s *StateStore) Remove(_ context.Context, sessionID string) error {
	// Validate session ID to prevent path traversal
	if err := validation.ValidateSessionID(sessionID); err != nil {
		return fmt.Errorf("invalid session ID: %w", err)
	}
	if err := os.Remove(s.path(sessionID)); err != nil {
		if os.IsNotExist(err) {
			return nil // Already gone, not an error
		}
		return fmt.Errorf("failed to remove session state file: %w", err)
	}
	return nil
}
