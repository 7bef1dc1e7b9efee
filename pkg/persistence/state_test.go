package persistence

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/model"
)

func TestStateStore(t *testing.T) {
	t.Run("LoadNonExistent", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "nonexistent.json"))

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got != nil {
			t.Errorf("Load() = %v, want nil for non-existent file", got)
		}
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "nested", "state.json"))

		state := &NodeState{
			Role:       "primary",
			TimingMode: "WIRED",
			Runner:     &model.Runner{ID: 3, Name: "Grace"},
		}
		if err := store.Save(state); err != nil {
			t.Fatalf("Save() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.Version != StateVersion {
			t.Errorf("Version = %d, want %d", got.Version, StateVersion)
		}
		if got.SavedAt.IsZero() {
			t.Error("SavedAt not set")
		}
		if got.Runner == nil || *got.Runner != (model.Runner{ID: 3, Name: "Grace"}) {
			t.Errorf("Runner = %+v, want Grace", got.Runner)
		}
		if got.TimingMode != "WIRED" {
			t.Errorf("TimingMode = %q, want WIRED", got.TimingMode)
		}
	})

	t.Run("SaveKeepsExplicitTime", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
		at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

		if err := store.Save(&NodeState{Role: "secondary", SavedAt: at}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if !got.SavedAt.Equal(at) {
			t.Errorf("SavedAt = %v, want %v", got.SavedAt, at)
		}
	})

	t.Run("Update", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "state.json"))

		err := store.Update(func(s *NodeState) {
			s.Role = "secondary"
			s.PrimaryAddress = "192.168.1.20:9999"
		})
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}
		err = store.Update(func(s *NodeState) { s.TimingMode = "GPS" })
		if err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := store.Load()
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		if got.PrimaryAddress != "192.168.1.20:9999" || got.TimingMode != "GPS" {
			t.Errorf("state = %+v, want address and mode kept", got)
		}
	})

	t.Run("LoadCorrupt", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "state.json")
		if err := os.WriteFile(path, []byte("{"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := NewStateStore(path).Load(); err == nil {
			t.Error("Load() of corrupt file returned nil error")
		}
	})

	t.Run("Clear", func(t *testing.T) {
		store := NewStateStore(filepath.Join(t.TempDir(), "state.json"))
		if err := store.Save(&NodeState{Role: "primary"}); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if err := store.Clear(); err != nil {
			t.Errorf("Clear() of missing file error = %v", err)
		}
		got, _ := store.Load()
		if got != nil {
			t.Errorf("Load() after Clear = %v, want nil", got)
		}
	})
}
