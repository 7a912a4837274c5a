package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewHasOnlyDefaultGroup(t *testing.T) {
	s := New()
	require.Equal(t, []string{DefaultGroupName}, s.GroupNames())
	g, ok := s.Group(DefaultGroupName)
	require.True(t, ok)
	require.Equal(t, GroupRunning, g.Status)
}

func TestAddTaskAssignsMonotonicIDs(t *testing.T) {
	s := New()
	id1 := s.AddTask(&Task{Group: DefaultGroupName})
	id2 := s.AddTask(&Task{Group: DefaultGroupName})
	require.Equal(t, 1, id1)
	require.Equal(t, 2, id2)
}

// R2: Add followed by Remove returns the task count to its prior value,
// and ids are never reused.
func TestAddThenRemoveDoesNotReuseIDs(t *testing.T) {
	s := New()
	before := len(s.Tasks())

	id := s.AddTask(&Task{Group: DefaultGroupName, Status: Queued(Now())})
	s.RemoveTask(id)
	require.Equal(t, before, len(s.Tasks()))

	next := s.AddTask(&Task{Group: DefaultGroupName})
	require.Greater(t, next, id)
}

func TestDependentsFindsTasksThatDependOnID(t *testing.T) {
	s := New()
	root := s.AddTask(&Task{Group: DefaultGroupName})
	dep1 := s.AddTask(&Task{Group: DefaultGroupName, Dependencies: []int{root}})
	_ = s.AddTask(&Task{Group: DefaultGroupName})

	require.ElementsMatch(t, []int{dep1}, s.Dependents(root))
}

func TestRunningCountOnlyCountsGroup(t *testing.T) {
	s := New()
	s.AddGroup("other", 0)

	running := &Task{Group: DefaultGroupName, Status: Running(Now())}
	s.AddTask(running)
	s.AddTask(&Task{Group: "other", Status: Running(Now())})
	s.AddTask(&Task{Group: DefaultGroupName, Status: Queued(Now())})

	require.Equal(t, 1, s.RunningCount(DefaultGroupName))
	require.Equal(t, 1, s.RunningCount("other"))
}

// P6 (restore half): a freshly saved-then-restored snapshot demotes any
// Running/Paused/Locked task to Queued, and pauses a group left with a
// Queued task.
func TestSaveRestoreSanitizesUnsurvivableStatuses(t *testing.T) {
	s := New()
	dir := t.TempDir()
	path := dir + "/state.cbor"

	runningID := s.AddTask(&Task{Group: DefaultGroupName, Status: Running(Now())})
	pausedID := s.AddTask(&Task{Group: DefaultGroupName, Status: Paused(Now())})
	doneID := s.AddTask(&Task{Group: DefaultGroupName, Status: Done(Now(), Now(), Result{Kind: ResultSuccess})})

	require.NoError(t, s.Save(path))

	restored := New()
	require.NoError(t, restored.Restore(path))

	running, ok := restored.Task(runningID)
	require.True(t, ok)
	require.Equal(t, PhaseQueued, running.Status.Phase)

	paused, ok := restored.Task(pausedID)
	require.True(t, ok)
	require.Equal(t, PhaseQueued, paused.Status.Phase)

	done, ok := restored.Task(doneID)
	require.True(t, ok)
	require.Equal(t, PhaseDone, done.Status.Phase)

	g, ok := restored.Group(DefaultGroupName)
	require.True(t, ok)
	require.Equal(t, GroupPaused, g.Status)
}

func TestRestoreOfMissingFileIsNoop(t *testing.T) {
	s := New()
	require.NoError(t, s.Restore(t.TempDir()+"/does-not-exist.cbor"))
	require.Equal(t, []string{DefaultGroupName}, s.GroupNames())
}

func TestSortDedupDeps(t *testing.T) {
	require.Equal(t, []int{1, 2, 3}, sortDedupDeps([]int{3, 1, 2, 1, 3}))
	require.Equal(t, []int{5}, sortDedupDeps([]int{5}))
	require.Nil(t, sortDedupDeps(nil))
}

func TestFilterTasksSplitsMatchingAndNonMatching(t *testing.T) {
	s := New()
	s.AddTask(&Task{Group: DefaultGroupName, Status: Queued(Now())})
	s.AddTask(&Task{Group: DefaultGroupName, Status: Done(time.Time{}, time.Time{}, Result{Kind: ResultSuccess})})

	res := s.FilterTasks(func(tk *Task) bool { return tk.Status.Phase == PhaseQueued }, nil)
	require.Len(t, res.Matching, 1)
	require.Len(t, res.NonMatching, 1)
}
