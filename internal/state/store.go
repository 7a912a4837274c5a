package state

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fxamacker/cbor/v2"
)

// snapshot is the on-disk shape of a whole State, written as a single CBOR
// document (state.cbor) rather than one file per task.
type snapshot struct {
	Tasks  []*Task          `cbor:"tasks"`
	Groups map[string]*Group `cbor:"groups"`
	NextID int              `cbor:"next_id"`
}

// Save atomically persists the current state to path, writing to a
// temporary file in the same directory and renaming over the destination
// so a crash mid-write never leaves a torn snapshot on disk.
func (s *State) Save(path string) error {
	snap := snapshot{
		Tasks:  s.Tasks(),
		Groups: s.groups,
		NextID: s.nextID,
	}

	data, err := cbor.Marshal(snap)
	if err != nil {
		return fmt.Errorf("state: marshal snapshot: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("state: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("state: write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("state: sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("state: close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("state: rename snapshot into place: %w", err)
	}
	return nil
}

// Restore loads path into s, replacing its contents, and sanitizes any
// status that could not have survived a restart:
//   - a task found Running, Paused, or Locked is demoted to Queued, since
//     its child process died with the daemon and there is nothing left to
//     resume;
//   - a group found Running that, after that demotion, has any Queued task
//     is set to Paused instead, so the operator notices the daemon restarted
//     mid-run rather than have it silently resume spawning.
//
// Restore is a no-op, returning nil, if path does not exist - a fresh daemon
// directory is not an error.
func (s *State) Restore(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("state: read snapshot: %w", err)
	}

	var snap snapshot
	if err := cbor.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("state: unmarshal snapshot: %w", err)
	}

	s.tasks = make(map[int]*Task, len(snap.Tasks))
	s.groups = snap.Groups
	if s.groups == nil {
		s.groups = make(map[string]*Group)
	}
	if _, ok := s.groups[DefaultGroupName]; !ok {
		s.groups[DefaultGroupName] = &Group{Name: DefaultGroupName, Status: GroupRunning}
	}
	s.nextID = snap.NextID

	queuedGroups := make(map[string]bool)
	for _, t := range snap.Tasks {
		switch t.Status.Phase {
		case PhaseRunning, PhasePaused, PhaseLocked:
			t.Status = Queued(Now())
		}
		if t.Status.Phase == PhaseQueued {
			queuedGroups[t.Group] = true
		}
		s.tasks[t.ID] = t
		if t.ID > s.nextID {
			s.nextID = t.ID
		}
	}

	for name := range queuedGroups {
		g, ok := s.groups[name]
		if ok && g.Status == GroupRunning {
			g.Status = GroupPaused
		}
	}

	return nil
}
