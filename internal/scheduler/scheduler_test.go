package scheduler

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/dispatcher"
	"firestige.xyz/duskq/internal/registry"
	"firestige.xyz/duskq/internal/state"
)

func newTestLoop(t *testing.T) (*Loop, *state.State) {
	t.Helper()
	cfg := &config.GlobalConfig{}
	cfg.Daemon.PueueDirectory = t.TempDir()
	cfg.Shell.Command = "sh"
	cfg.Shell.Flag = "-c"
	st := state.New()
	reg := registry.New()
	l := New(st, reg, cfg, make(chan dispatcher.Hint, 16))
	return l, st
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	require.Fail(t, "condition not met before timeout")
}

// Eligibility ordering: descending priority, ascending enqueued_at,
// ascending id.
func TestEligibleTasksForGroupOrdering(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	now := state.Now()
	low := st.AddTask(&state.Task{Group: state.DefaultGroupName, Priority: 0, Status: state.Queued(now)})
	high := st.AddTask(&state.Task{Group: state.DefaultGroupName, Priority: 10, Status: state.Queued(now)})
	earlier := st.AddTask(&state.Task{Group: state.DefaultGroupName, Priority: 10, Status: state.Queued(now.Add(-time.Second))})
	st.Unlock()

	st.Lock()
	ordered := l.eligibleTasksForGroup(state.DefaultGroupName)
	st.Unlock()

	require.Len(t, ordered, 3)
	require.Equal(t, earlier, ordered[0].ID)
	require.Equal(t, high, ordered[1].ID)
	require.Equal(t, low, ordered[2].ID)
}

func TestEligibleTasksExcludesUnmetDependencies(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	dep := st.AddTask(&state.Task{Group: state.DefaultGroupName, Status: state.Queued(state.Now())})
	dependent := st.AddTask(&state.Task{Group: state.DefaultGroupName, Dependencies: []int{dep}, Status: state.Queued(state.Now())})
	st.Unlock()

	st.Lock()
	ordered := l.eligibleTasksForGroup(state.DefaultGroupName)
	st.Unlock()

	ids := make([]int, len(ordered))
	for i, tk := range ordered {
		ids[i] = tk.ID
	}
	require.Contains(t, ids, dep)
	require.NotContains(t, ids, dependent)
}

// P5: a Queued task with a failed dependency becomes Done{DependencyFailed}.
func TestPropagateDependencyFailures(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	now := state.Now()
	failedDep := st.AddTask(&state.Task{Group: state.DefaultGroupName, Status: state.Done(now, now, state.Result{Kind: state.ResultFailed, ExitCode: 1})})
	dependent := st.AddTask(&state.Task{Group: state.DefaultGroupName, Dependencies: []int{failedDep}, Status: state.Queued(now)})
	l.propagateDependencyFailures()
	st.Unlock()

	task, _ := st.Task(dependent)
	require.Equal(t, state.PhaseDone, task.Status.Phase)
	require.Equal(t, state.ResultDependencyFailed, task.Status.Result.Kind)
}

func TestEnqueueDelayedTransitionsDueStashedTasks(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	past := state.Now().Add(-time.Minute)
	future := state.Now().Add(time.Hour)
	due := st.AddTask(&state.Task{Group: state.DefaultGroupName, Status: state.Stashed(&past)})
	notDue := st.AddTask(&state.Task{Group: state.DefaultGroupName, Status: state.Stashed(&future)})
	l.enqueueDelayed()
	st.Unlock()

	dueTask, _ := st.Task(due)
	require.Equal(t, state.PhaseQueued, dueTask.Status.Phase)

	notDueTask, _ := st.Task(notDue)
	require.Equal(t, state.PhaseStashed, notDueTask.Status.Phase)
}

func taskDone(st *state.State, id int) bool {
	st.Lock()
	defer st.Unlock()
	tk, ok := st.Task(id)
	return ok && tk.Status.Phase == state.PhaseDone
}

// Scenario 1: isolation - the child process does not inherit the
// daemon's own environment.
func TestSpawnedTaskDoesNotInheritDaemonEnvironment(t *testing.T) {
	t.Setenv("PUEUED_TEST_ENV_VARIABLE", "leak")

	l, st := newTestLoop(t)
	st.Lock()
	id := st.AddTask(&state.Task{
		Group:   state.DefaultGroupName,
		Command: "echo $PUEUED_TEST_ENV_VARIABLE",
		Status:  state.Queued(state.Now()),
	})
	st.Unlock()

	waitUntil(t, 3*time.Second, func() bool {
		l.Tick()
		return taskDone(st, id)
	})

	st.Lock()
	task, _ := st.Task(id)
	require.Equal(t, state.ResultSuccess, task.Status.Result.Kind)
	st.Unlock()

	data, err := os.ReadFile(l.Config.TaskLogPath(id))
	require.NoError(t, err)
	require.Equal(t, "\n", string(data))
}

// Scenario 6: parallelism cap - running count for a group never exceeds
// its parallel_tasks, and every task eventually finishes successfully.
func TestParallelismCapIsRespected(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	st.AddGroup("capped", 2)
	ids := make([]int, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, st.AddTask(&state.Task{
			Group:   "capped",
			Command: "sleep 0.2",
			Status:  state.Queued(state.Now()),
		}))
	}
	st.Unlock()

	allDone := func() bool {
		l.Tick()
		st.Lock()
		defer st.Unlock()
		running := st.RunningCount("capped")
		require.LessOrEqual(t, running, 2)
		for _, id := range ids {
			tk, _ := st.Task(id)
			if tk.Status.Phase != state.PhaseDone {
				return false
			}
		}
		return true
	}
	waitUntil(t, 5*time.Second, allDone)

	st.Lock()
	defer st.Unlock()
	for _, id := range ids {
		tk, _ := st.Task(id)
		require.Equal(t, state.ResultSuccess, tk.Status.Result.Kind)
		if _, err := os.Stat(l.Config.TaskLogPath(id)); err != nil {
			require.Failf(t, "missing log file", "task %d: %v", id, err)
		}
	}
}

// A task explicitly force-started (Start with named ids, or
// Add{start_immediately}) must spawn even though its group is Paused, and
// the group must remain Paused afterward.
func TestForceStartSpawnsIntoPausedGroup(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	st.AddGroup("paused", 0)
	g, _ := st.Group("paused")
	g.Status = state.GroupPaused
	id := st.AddTask(&state.Task{
		Group:   "paused",
		Command: "true",
		Status:  state.Queued(state.Now()),
	})
	st.Unlock()

	l.applyHint(dispatcher.Hint{Kind: dispatcher.HintStartTasks, Ids: []int{id}})

	waitUntil(t, 3*time.Second, func() bool {
		l.Tick()
		return taskDone(st, id)
	})

	st.Lock()
	tk, _ := st.Task(id)
	require.Equal(t, state.ResultSuccess, tk.Status.Result.Kind)
	g, _ = st.Group("paused")
	require.Equal(t, state.GroupPaused, g.Status)
	st.Unlock()
}

// A Queued task in a Paused group that was NOT force-started must stay
// Queued indefinitely - only the named task spawns.
func TestPausedGroupDoesNotSpawnOtherTasks(t *testing.T) {
	l, st := newTestLoop(t)
	st.Lock()
	st.AddGroup("paused", 0)
	g, _ := st.Group("paused")
	g.Status = state.GroupPaused
	forced := st.AddTask(&state.Task{Group: "paused", Command: "true", Status: state.Queued(state.Now())})
	bystander := st.AddTask(&state.Task{Group: "paused", Command: "true", Status: state.Queued(state.Now())})
	st.Unlock()

	l.applyHint(dispatcher.Hint{Kind: dispatcher.HintStartTasks, Ids: []int{forced}})

	waitUntil(t, 3*time.Second, func() bool {
		l.Tick()
		return taskDone(st, forced)
	})

	st.Lock()
	defer st.Unlock()
	tk, _ := st.Task(bystander)
	require.Equal(t, state.PhaseQueued, tk.Status.Phase)
}
