package dispatcher

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/registry"
	"firestige.xyz/duskq/internal/state"
	"firestige.xyz/duskq/internal/wire"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()
	cfg := &config.GlobalConfig{}
	cfg.Daemon.PueueDirectory = t.TempDir()
	return New(state.New(), registry.New(), cfg, "test", make(chan Hint, 16))
}

func addTask(t *testing.T, d *Dispatcher, command string) int {
	t.Helper()
	resp := d.Dispatch(wire.Request{Kind: wire.KindAdd, OriginalCommand: command})
	require.True(t, resp.IsSuccess())
	return resp.TaskID
}

func TestAddRejectsUnknownGroup(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(wire.Request{Kind: wire.KindAdd, OriginalCommand: "ls", Group: "nope"})
	require.False(t, resp.IsSuccess())
}

func TestAddRejectsUnknownDependency(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(wire.Request{Kind: wire.KindAdd, OriginalCommand: "ls", Dependencies: []int{99}})
	require.False(t, resp.IsSuccess())
}

func TestAddDefaultsToQueuedAndDefaultGroup(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(wire.Request{Kind: wire.KindAdd, OriginalCommand: "ls"})
	require.True(t, resp.IsSuccess())
	require.Equal(t, wire.RespAddedTask, resp.Kind)
	require.False(t, resp.GroupIsPaused)

	task, ok := d.State.Task(resp.TaskID)
	require.True(t, ok)
	require.Equal(t, state.DefaultGroupName, task.Group)
	require.Equal(t, state.PhaseQueued, task.Status.Phase)
}

func TestAddExpandsAlias(t *testing.T) {
	d := newTestDispatcher(t)
	d.Config.Aliases = map[string]string{"deploy": "./scripts/deploy.sh"}

	id := addTask(t, d, "deploy --prod")
	task, _ := d.State.Task(id)
	require.Equal(t, "./scripts/deploy.sh --prod", task.Command)
	require.Equal(t, "deploy --prod", task.OriginalCommand)
}

// Scenario 2: group creation, removal, and protection.
func TestGroupAddRemoveAndDefaultProtection(t *testing.T) {
	d := newTestDispatcher(t)

	resp := d.Dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupAdd, Group: "testgroup", ParallelTasks: 1})
	require.True(t, resp.IsSuccess())

	resp = d.Dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupAdd, Group: "testgroup"})
	require.False(t, resp.IsSuccess())

	id := addTask(t, d, "ls")
	task, _ := d.State.Task(id)
	task.Group = "testgroup"
	now := state.Now()
	task.Status = state.Done(now, now, state.Result{Kind: state.ResultSuccess})

	resp = d.Dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupRemove, Group: "testgroup"})
	require.False(t, resp.IsSuccess())

	resp = d.Dispatch(wire.Request{Kind: wire.KindRemove, Ids: []int{id}})
	require.True(t, resp.IsSuccess())

	resp = d.Dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupRemove, Group: "testgroup"})
	require.True(t, resp.IsSuccess())
}

func TestGroupRemoveDefaultFails(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(wire.Request{Kind: wire.KindGroup, GroupOp: wire.GroupRemove, Group: state.DefaultGroupName})
	require.False(t, resp.IsSuccess())
}

func TestRemoveRejectsRunningPausedAndDependents(t *testing.T) {
	d := newTestDispatcher(t)

	id := addTask(t, d, "sleep 60")
	task, _ := d.State.Task(id)
	task.Status = state.Running(state.Now())
	resp := d.Dispatch(wire.Request{Kind: wire.KindRemove, Ids: []int{id}})
	require.False(t, resp.IsSuccess())

	task.Status = state.Queued(state.Now())
	dependent := addTask(t, d, "echo hi")
	dep, _ := d.State.Task(dependent)
	dep.Dependencies = []int{id}

	resp = d.Dispatch(wire.Request{Kind: wire.KindRemove, Ids: []int{id}})
	require.False(t, resp.IsSuccess())
}

// Scenario 5: switch semantics.
func TestSwitchSemantics(t *testing.T) {
	d := newTestDispatcher(t)

	seed := func(command string, phase state.Phase, deps []int) int {
		id := addTask(t, d, command)
		task, _ := d.State.Task(id)
		task.Dependencies = deps
		switch phase {
		case state.PhaseStashed:
			task.Status = state.Stashed(nil)
		default:
			task.Status = state.Queued(state.Now())
		}
		return id
	}

	id0 := seed("0", state.PhaseQueued, nil)
	id1 := seed("1", state.PhaseStashed, nil)
	id2 := seed("2", state.PhaseQueued, nil)
	id3 := seed("3", state.PhaseStashed, nil)
	id4 := seed("4", state.PhaseQueued, []int{id0, id3})
	id5 := seed("5", state.PhaseStashed, []int{id1})
	id6 := seed("6", state.PhaseQueued, []int{id2, id3})

	resp := d.Dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: id1, TaskID2: id2})
	require.True(t, resp.IsSuccess())

	atID2, ok := d.State.Task(id2)
	require.True(t, ok)
	require.Equal(t, "1", atID2.OriginalCommand)

	atID1, ok := d.State.Task(id1)
	require.True(t, ok)
	require.Equal(t, "2", atID1.OriginalCommand)

	t5, _ := d.State.Task(id5)
	require.Equal(t, []int{id2}, t5.Dependencies)

	t6, _ := d.State.Task(id6)
	require.Equal(t, []int{id1, id3}, t6.Dependencies)

	t4, _ := d.State.Task(id4)
	require.Equal(t, []int{id0, id3}, t4.Dependencies)
}

func TestSwitchSelfFails(t *testing.T) {
	d := newTestDispatcher(t)
	id := addTask(t, d, "ls")
	resp := d.Dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: id, TaskID2: id})
	require.False(t, resp.IsSuccess())
	require.Equal(t, "You cannot switch a task with itself.", resp.Message)
}

func TestSwitchRejectsWrongStatus(t *testing.T) {
	d := newTestDispatcher(t)
	queued := addTask(t, d, "ls")
	doneID := addTask(t, d, "ls")
	done, _ := d.State.Task(doneID)
	now := state.Now()
	done.Status = state.Done(now, now, state.Result{Kind: state.ResultSuccess})

	resp := d.Dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: queued, TaskID2: doneID})
	require.False(t, resp.IsSuccess())
	require.Equal(t, "Tasks have to be either queued or stashed.", resp.Message)
}

// R1: switching a and b twice is a no-op.
func TestSwitchTwiceIsNoop(t *testing.T) {
	d := newTestDispatcher(t)
	id0 := addTask(t, d, "0")
	id1 := addTask(t, d, "1")

	require.True(t, d.Dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: id0, TaskID2: id1}).IsSuccess())
	require.True(t, d.Dispatch(wire.Request{Kind: wire.KindSwitch, TaskID1: id0, TaskID2: id1}).IsSuccess())

	t0, _ := d.State.Task(id0)
	t1, _ := d.State.Task(id1)
	require.Equal(t, "0", t0.OriginalCommand)
	require.Equal(t, "1", t1.OriginalCommand)
}

// Scenario 3: restart in place.
func TestRestartInPlacePreservesIDAndCreatedAt(t *testing.T) {
	d := newTestDispatcher(t)
	id := addTask(t, d, "ls")
	task, _ := d.State.Task(id)
	createdAt := task.CreatedAt
	now := state.Now()
	task.Status = state.Done(now, now, state.Result{Kind: state.ResultSuccess})

	resp := d.Dispatch(wire.Request{
		Kind:    wire.KindRestart,
		InPlace: true,
		RestartItems: []wire.RestartItem{
			{TaskID: id, OriginalCommand: "sleep 60", Path: "/tmp", Label: "test", Priority: 0},
		},
	})
	require.True(t, resp.IsSuccess())

	restarted, ok := d.State.Task(id)
	require.True(t, ok)
	require.Equal(t, createdAt, restarted.CreatedAt)
	require.Equal(t, "sleep 60", restarted.Command)
	require.Equal(t, "/tmp", restarted.Path)
	require.Equal(t, "test", restarted.Label)
	require.Equal(t, state.PhaseQueued, restarted.Status.Phase)
	require.Equal(t, 1, len(d.State.Tasks()))
}

// Scenario 4: cannot restart a running task.
func TestRestartRejectsNonDoneTasks(t *testing.T) {
	d := newTestDispatcher(t)
	id := addTask(t, d, "sleep 60")
	task, _ := d.State.Task(id)
	task.Status = state.Running(state.Now())

	resp := d.Dispatch(wire.Request{
		Kind:    wire.KindRestart,
		InPlace: true,
		RestartItems: []wire.RestartItem{
			{TaskID: id, OriginalCommand: "sleep 60", Path: "/tmp"},
		},
	})
	require.False(t, resp.IsSuccess())
	require.Equal(t, fmt.Sprintf("task %d is not done and cannot be restarted", id), resp.Message)
	require.Equal(t, state.PhaseRunning, task.Status.Phase)
}

func TestCleanSuccessfulOnlyRemovesOnlySuccessfulDoneTasks(t *testing.T) {
	d := newTestDispatcher(t)
	successID := addTask(t, d, "ls")
	st, _ := d.State.Task(successID)
	now := state.Now()
	st.Status = state.Done(now, now, state.Result{Kind: state.ResultSuccess})

	failID := addTask(t, d, "false")
	ft, _ := d.State.Task(failID)
	ft.Status = state.Done(now, now, state.Result{Kind: state.ResultFailed, ExitCode: 1})

	queuedID := addTask(t, d, "echo hi")

	resp := d.Dispatch(wire.Request{Kind: wire.KindClean, SuccessfulOnly: true})
	require.True(t, resp.IsSuccess())

	_, stillHasSuccess := d.State.Task(successID)
	require.False(t, stillHasSuccess)
	_, stillHasFail := d.State.Task(failID)
	require.True(t, stillHasFail)
	_, stillHasQueued := d.State.Task(queuedID)
	require.True(t, stillHasQueued)
}

func TestParallelSetsGroupCapacity(t *testing.T) {
	d := newTestDispatcher(t)
	resp := d.Dispatch(wire.Request{Kind: wire.KindParallel, ParallelTasks: 4})
	require.True(t, resp.IsSuccess())
	g, _ := d.State.Group(state.DefaultGroupName)
	require.Equal(t, 4, g.ParallelTasks)
}

func TestSendFailsWhenTaskNotRunning(t *testing.T) {
	d := newTestDispatcher(t)
	id := addTask(t, d, "cat")
	resp := d.Dispatch(wire.Request{Kind: wire.KindSend, TaskID: id, Input: "hi\n"})
	require.False(t, resp.IsSuccess())
}

func TestStatusReflectsAddedTask(t *testing.T) {
	d := newTestDispatcher(t)
	id := addTask(t, d, "ls")
	resp := d.Dispatch(wire.Request{Kind: wire.KindStatus})
	require.True(t, resp.IsSuccess())
	require.Contains(t, resp.State.Tasks, id)
}
