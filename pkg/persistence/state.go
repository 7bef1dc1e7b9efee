package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/model"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// NodeState is the runtime state of one gate node.
type NodeState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// Role is "primary" or "secondary".
	Role string `json:"role"`

	// TimingMode is the mode resolved by the last run.
	TimingMode string `json:"timing_mode,omitempty"`

	// Runner is the runner armed on the primary at shutdown.
	Runner *model.Runner `json:"runner,omitempty"`

	// PrimaryAddress is the last address a secondary connected to. It is
	// the fallback when discovery finds nothing.
	PrimaryAddress string `json:"primary_address,omitempty"`
}

// StateStore manages persistence of node state to a JSON file.
type StateStore struct {
	mu   sync.Mutex
	path string
}

// NewStateStore creates a state store.
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path}
}

// Path returns the state file path.
func (s *StateStore) Path() string { return s.path }

// Save persists the node state to disk.
func (s *StateStore) Save(state *NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	// Write then rename so a crash never leaves a truncated file.
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// Load reads the node state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *StateStore) Load() (*NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &NodeState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Update loads the state, applies fn and saves the result. A missing file
// starts from an empty state.
func (s *StateStore) Update(fn func(*NodeState)) error {
	state, err := s.Load()
	if err != nil {
		return err
	}
	if state == nil {
		state = &NodeState{}
	}
	fn(state)
	state.SavedAt = time.Time{}
	return s.Save(state)
}

// Clear removes the state file.
func (s *StateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
