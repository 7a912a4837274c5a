package state

import (
	"sort"
	"sync"
	"time"
)

// State is the aggregate owned exclusively by the State Store: every Task
// and Group value in the daemon lives here, behind a single mutex, per
// this project's single-threaded-for-state-mutation rule. Callers take the
// lock explicitly around a batch of reads/mutations, mirroring pueue's
// `Mutex<State>` + `state.lock().unwrap()` idiom, rather than taking it
// inside every method, so the Dispatcher can perform several related
// operations atomically.
type State struct {
	mu sync.Mutex

	tasks  map[int]*Task
	groups map[string]*Group
	nextID int
}

// New returns a State with only the mandatory "default" group.
func New() *State {
	s := &State{
		tasks:  make(map[int]*Task),
		groups: make(map[string]*Group),
	}
	s.groups[DefaultGroupName] = &Group{Name: DefaultGroupName, Status: GroupRunning}
	return s
}

// Lock and Unlock expose the store's mutex directly. All other methods on
// *State assume the caller already holds it; this mirrors pueue's Rust
// `MutexGuard` pattern instead of hiding locking inside each accessor, so
// dispatcher handlers can compose several state operations under one
// critical section.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }

// AddTask assigns the next id, inserts the task, and returns the id.
// Caller must hold the lock.
func (s *State) AddTask(t *Task) int {
	s.nextID++
	t.ID = s.nextID
	s.tasks[t.ID] = t
	return t.ID
}

// InsertRestoredTask inserts a task under the id it already carries (the
// Switch handler uses it to re-key the two swapped tasks) and advances the
// id counter so future AddTask calls never collide with or reuse that id.
func (s *State) InsertRestoredTask(t *Task) {
	s.tasks[t.ID] = t
	if t.ID > s.nextID {
		s.nextID = t.ID
	}
}

// Task looks up a single task by id. Caller must hold the lock.
func (s *State) Task(id int) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// RemoveTask deletes a task unconditionally. Caller must hold the lock and
// must have already validated the task can be removed.
func (s *State) RemoveTask(id int) {
	delete(s.tasks, id)
}

// TaskIDs returns every task id in ascending order. Because ids are
// monotonically assigned at insertion, ascending-id order coincides with
// insertion order for tasks that were never involved in a Switch; a
// Switch intentionally exchanges two ids so their relative display order
// flips, which is the whole point of the operation.
func (s *State) TaskIDs() []int {
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Tasks returns every task, ordered by ascending id (see TaskIDs).
func (s *State) Tasks() []*Task {
	ids := s.TaskIDs()
	out := make([]*Task, len(ids))
	for i, id := range ids {
		out[i] = s.tasks[id]
	}
	return out
}

// FilterResult splits a filtered id set into matching and non-matching
// tasks, mirroring pueue's `filter_tasks`.
type FilterResult struct {
	Matching    []*Task
	NonMatching []*Task
}

// FilterTasks applies pred to either the given ids (if non-nil) or to every
// task, splitting the result into matching/non-matching. Unknown ids in the
// requested set are silently ignored (the caller is expected to validate
// existence separately when that matters).
func (s *State) FilterTasks(pred func(*Task) bool, ids []int) FilterResult {
	var candidates []*Task
	if ids != nil {
		for _, id := range ids {
			if t, ok := s.tasks[id]; ok {
				candidates = append(candidates, t)
			}
		}
	} else {
		candidates = s.Tasks()
	}

	var res FilterResult
	for _, t := range candidates {
		if pred(t) {
			res.Matching = append(res.Matching, t)
		} else {
			res.NonMatching = append(res.NonMatching, t)
		}
	}
	return res
}

// FilterTasksOfGroup is FilterTasks restricted to one group.
func (s *State) FilterTasksOfGroup(pred func(*Task) bool, group string) FilterResult {
	var res FilterResult
	for _, t := range s.Tasks() {
		if t.Group != group {
			continue
		}
		if pred(t) {
			res.Matching = append(res.Matching, t)
		} else {
			res.NonMatching = append(res.NonMatching, t)
		}
	}
	return res
}

// Dependents returns the ids of tasks that list id as a dependency.
func (s *State) Dependents(id int) []int {
	var out []int
	for _, t := range s.Tasks() {
		for _, dep := range t.Dependencies {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	return out
}

// Group looks up a group by name. Caller must hold the lock.
func (s *State) Group(name string) (*Group, bool) {
	g, ok := s.groups[name]
	return g, ok
}

// GroupNames returns every group name, sorted.
func (s *State) GroupNames() []string {
	names := make([]string, 0, len(s.groups))
	for n := range s.groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Groups returns every group, ordered by name.
func (s *State) Groups() []*Group {
	names := s.GroupNames()
	out := make([]*Group, len(names))
	for i, n := range names {
		out[i] = s.groups[n]
	}
	return out
}

// AddGroup inserts a new group, returning false if one already exists.
func (s *State) AddGroup(name string, parallelTasks int) bool {
	if _, exists := s.groups[name]; exists {
		return false
	}
	s.groups[name] = &Group{Name: name, ParallelTasks: parallelTasks, Status: GroupRunning}
	return true
}

// RemoveGroup deletes a group unconditionally. Caller must have already
// validated it is not "default" and has no tasks.
func (s *State) RemoveGroup(name string) {
	delete(s.groups, name)
}

// RunningCount returns how many tasks in group are currently Running.
func (s *State) RunningCount(group string) int {
	n := 0
	for _, t := range s.tasks {
		if t.Group == group && t.Status.Phase == PhaseRunning {
			n++
		}
	}
	return n
}

// now is overridable in tests that need deterministic timestamps.
var now = time.Now

// Now returns the current time via the package's clock hook.
func Now() time.Time { return now() }
