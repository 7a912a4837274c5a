// Package dispatcher implements the Message Dispatcher: pure(ish) handlers
// that validate an inbound wire.Request against a locked state.State,
// mutate it, and produce a wire.Response, optionally emitting a Hint for
// the Scheduler Loop. It uses a Handle()-method-table idiom over the
// CBOR Request/Response union, one handler per request kind (add, switch,
// kill, ...), for pueue-style task-queue semantics.
package dispatcher

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/registry"
	"firestige.xyz/duskq/internal/state"
	"firestige.xyz/duskq/internal/wire"
)

// HintKind discriminates a scheduler hint emitted by a dispatch handler.
type HintKind string

const (
	HintStartTasks     HintKind = "start_tasks"     // start these ids regardless of group capacity
	HintPauseGroups    HintKind = "pause_groups"    // pause these groups (post-kill side effect)
	HintSignalGroup    HintKind = "signal_group"    // forward a signal to a live group
	HintShutdown       HintKind = "shutdown"        // begin shutdown sequence
	HintReset          HintKind = "reset"           // begin reset sequence
	HintSaveOrEmergency HintKind = "save_or_emergency"
)

// Hint is a side-effect the Dispatcher cannot perform itself (it never
// touches the Child Registry or OS state) and instead leaves for the
// Scheduler Loop to pick up on its next tick.
type Hint struct {
	Kind    HintKind
	Ids     []int
	Groups  []string
	Signal  string
	Kind2   wire.ShutdownKind // for HintShutdown
}

// Dispatcher holds everything a handler needs: the locked State, the
// Child Registry (read-only queries plus Send/signal delivery), and
// configuration (alias table, pueue directory for log paths).
type Dispatcher struct {
	State    *state.State
	Registry *registry.Registry
	Config   *config.GlobalConfig
	Version  string

	hints chan Hint
}

// New builds a Dispatcher. hints must be read by the Scheduler Loop.
func New(st *state.State, reg *registry.Registry, cfg *config.GlobalConfig, version string, hints chan Hint) *Dispatcher {
	return &Dispatcher{State: st, Registry: reg, Config: cfg, Version: version, hints: hints}
}

func (d *Dispatcher) emit(h Hint) {
	if d.hints == nil {
		return
	}
	select {
	case d.hints <- h:
	default:
		// Hints channel is sized generously (see daemon wiring); a full
		// channel means the scheduler is badly behind, which the next
		// tick's normal reconciliation will still pick up from state.
	}
}

// Dispatch routes req to its handler. Every handler, and the snapshot save
// that follows a successful mutation, runs with the state lock held; Send
// writes to a child's stdin pipe and Log reads log files while holding it.
func (d *Dispatcher) Dispatch(req wire.Request) wire.Response {
	d.State.Lock()
	defer d.State.Unlock()
	resp := d.dispatchLocked(req)

	if isMutating(req.Kind) && resp.IsSuccess() {
		if err := d.State.Save(d.Config.StatePath()); err != nil {
			resp = wire.Failure(fmt.Sprintf("state saved failed, shutting down: %v", err))
			d.emit(Hint{Kind: HintShutdown, Kind2: wire.ShutdownEmergency})
		}
	}
	return resp
}

func isMutating(k wire.Kind) bool {
	switch k {
	case wire.KindStatus, wire.KindLog, wire.KindStreamLog:
		return false
	default:
		return true
	}
}

func (d *Dispatcher) dispatchLocked(req wire.Request) wire.Response {
	switch req.Kind {
	case wire.KindAdd:
		return d.handleAdd(req)
	case wire.KindRemove:
		return d.handleRemove(req)
	case wire.KindSwitch:
		return d.handleSwitch(req)
	case wire.KindStash:
		return d.handleStash(req)
	case wire.KindEnqueue:
		return d.handleEnqueue(req)
	case wire.KindStart:
		return d.handleStart(req)
	case wire.KindPause:
		return d.handlePause(req)
	case wire.KindKill:
		return d.handleKill(req)
	case wire.KindSend:
		return d.handleSend(req)
	case wire.KindRestart:
		return d.handleRestart(req)
	case wire.KindClean:
		return d.handleClean(req)
	case wire.KindParallel:
		return d.handleParallel(req)
	case wire.KindGroup:
		return d.handleGroup(req)
	case wire.KindStatus:
		return d.handleStatus(req)
	case wire.KindLog:
		return d.handleLog(req)
	case wire.KindDaemonShutdown:
		return d.handleDaemonShutdown(req)
	case wire.KindReset:
		return d.handleReset(req)
	default:
		return wire.Failure(fmt.Sprintf("unknown request kind %q", req.Kind))
	}
}

// handleAdd implements Add, grounded on pueue's add.rs.
func (d *Dispatcher) handleAdd(req wire.Request) wire.Response {
	group := req.Group
	if group == "" {
		group = state.DefaultGroupName
	}
	g, ok := d.State.Group(group)
	if !ok {
		return wire.Failure(fmt.Sprintf("group %q does not exist", group))
	}
	for _, dep := range req.Dependencies {
		if _, ok := d.State.Task(dep); !ok {
			return wire.Failure(fmt.Sprintf("dependency task %d does not exist", dep))
		}
	}

	command := expandAlias(req.OriginalCommand, d.Config.Aliases)

	t := &state.Task{
		OriginalCommand: req.OriginalCommand,
		Command:         command,
		Path:            req.Path,
		Envs:            req.Envs,
		Group:           group,
		Dependencies:    sortDedup(req.Dependencies),
		Priority:        req.Priority,
		Label:           req.Label,
		CreatedAt:       state.Now(),
	}

	var enqueueAt *time.Time
	if req.Stashed || req.EnqueueAt != nil {
		t.Status = state.Stashed(req.EnqueueAt)
		enqueueAt = req.EnqueueAt
	} else {
		t.Status = state.Queued(state.Now())
	}

	id := d.State.AddTask(t)

	if req.StartImmediate {
		d.emit(Hint{Kind: HintStartTasks, Ids: []int{id}})
	}

	return wire.Response{
		Kind:          wire.RespAddedTask,
		TaskID:        id,
		EnqueueAt:     enqueueAt,
		GroupIsPaused: g.Status == state.GroupPaused,
	}
}

func expandAlias(originalCommand string, aliases map[string]string) string {
	if len(aliases) == 0 {
		return originalCommand
	}
	fields := strings.Fields(originalCommand)
	if len(fields) == 0 {
		return originalCommand
	}
	replacement, ok := aliases[fields[0]]
	if !ok {
		return originalCommand
	}
	rest := strings.TrimPrefix(originalCommand, fields[0])
	return replacement + rest
}

func sortDedup(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	cp := append([]int(nil), ids...)
	sort.Ints(cp)
	out := cp[:1]
	for _, id := range cp[1:] {
		if out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	return out
}

// handleRemove implements Remove.
func (d *Dispatcher) handleRemove(req wire.Request) wire.Response {
	var removed []int
	for _, id := range req.Ids {
		t, ok := d.State.Task(id)
		if !ok {
			continue
		}
		if !t.CanBeRemoved() {
			return wire.Failure(fmt.Sprintf("task %d is running, paused, or locked and cannot be removed", id))
		}
		if dependents := d.State.Dependents(id); len(dependents) > 0 {
			return wire.Failure(fmt.Sprintf("task %d is a dependency of %v", id, dependents))
		}
		removed = append(removed, id)
	}
	for _, id := range removed {
		d.State.RemoveTask(id)
	}
	return wire.Success(fmt.Sprintf("removed %d task(s)", len(removed)))
}

// handleSwitch implements Switch, grounded on pueue's
// switch.rs, including its exact rejection messages.
func (d *Dispatcher) handleSwitch(req wire.Request) wire.Response {
	if req.TaskID1 == req.TaskID2 {
		return wire.Failure("You cannot switch a task with itself.")
	}
	t1, ok1 := d.State.Task(req.TaskID1)
	t2, ok2 := d.State.Task(req.TaskID2)
	if !ok1 || !ok2 {
		return wire.Failure("Cannot switch tasks that don't exist.")
	}
	if !t1.CanBeSwitched() || !t2.CanBeSwitched() {
		return wire.Failure("Tasks have to be either queued or stashed.")
	}

	for _, t := range d.State.Tasks() {
		if t.ID == t1.ID || t.ID == t2.ID {
			continue
		}
		hasDep1, hasDep2 := false, false
		for _, dep := range t.Dependencies {
			if dep == t1.ID {
				hasDep1 = true
			}
			if dep == t2.ID {
				hasDep2 = true
			}
		}
		if hasDep1 && hasDep2 {
			continue
		}
		changed := false
		for i, dep := range t.Dependencies {
			if dep == t1.ID {
				t.Dependencies[i] = t2.ID
				changed = true
			} else if dep == t2.ID {
				t.Dependencies[i] = t1.ID
				changed = true
			}
		}
		if changed {
			sort.Ints(t.Dependencies)
		}
	}

	t1.ID, t2.ID = t2.ID, t1.ID
	d.State.InsertRestoredTask(t1) // re-key under its (now swapped) id
	d.State.InsertRestoredTask(t2)

	return wire.Success(fmt.Sprintf("switched tasks %d and %d", req.TaskID1, req.TaskID2))
}

// handleStash moves Queued tasks to Stashed (no enqueue_at: manual only).
func (d *Dispatcher) handleStash(req wire.Request) wire.Response {
	n := 0
	for _, id := range req.Ids {
		t, ok := d.State.Task(id)
		if !ok || t.Status.Phase != state.PhaseQueued {
			continue
		}
		t.Status = state.Stashed(nil)
		n++
	}
	return wire.Success(fmt.Sprintf("stashed %d task(s)", n))
}

// handleEnqueue moves Stashed tasks back to Queued, optionally scheduling a
// future enqueue_at instead of an immediate transition.
func (d *Dispatcher) handleEnqueue(req wire.Request) wire.Response {
	n := 0
	for _, id := range req.Ids {
		t, ok := d.State.Task(id)
		if !ok || t.Status.Phase != state.PhaseStashed {
			continue
		}
		if req.EnqueueAt != nil {
			t.Status = state.Stashed(req.EnqueueAt)
		} else {
			t.Status = state.Queued(state.Now())
		}
		n++
	}
	return wire.Success(fmt.Sprintf("enqueued %d task(s)", n))
}

// handleStart implements Start: resumes Paused tasks (signal
// hint to the scheduler) and force-starts explicitly named Queued tasks
// regardless of group parallelism, or resumes a whole group together with
// its Paused tasks.
func (d *Dispatcher) handleStart(req wire.Request) wire.Response {
	ids, groups := d.resolveSelection(req.Selection)
	for _, name := range groups {
		if g, ok := d.State.Group(name); ok && g.Status == state.GroupPaused {
			g.Status = state.GroupRunning
		}
		for _, t := range d.State.FilterTasksOfGroup(func(t *state.Task) bool { return t.Status.Phase == state.PhasePaused }, name).Matching {
			ids = append(ids, t.ID)
		}
	}

	var resumeIds, forceStartIds []int
	for _, id := range ids {
		t, ok := d.State.Task(id)
		if !ok {
			continue
		}
		switch t.Status.Phase {
		case state.PhasePaused:
			t.Status = state.Running(t.Status.Start)
			resumeIds = append(resumeIds, id)
		case state.PhaseQueued:
			if req.Selection.Kind == wire.SelectionIds {
				forceStartIds = append(forceStartIds, id)
			}
		}
	}
	if len(resumeIds) > 0 {
		d.emit(Hint{Kind: HintSignalGroup, Ids: resumeIds, Signal: "CONT"})
	}
	if len(forceStartIds) > 0 {
		d.emit(Hint{Kind: HintStartTasks, Ids: forceStartIds})
	}
	return wire.Success("started")
}

// handlePause pauses groups and/or individual running tasks (signal STOP).
// Pausing a group also pauses its running tasks unless req.Wait is set.
func (d *Dispatcher) handlePause(req wire.Request) wire.Response {
	ids, groups := d.resolveSelection(req.Selection)
	for _, name := range groups {
		if g, ok := d.State.Group(name); ok {
			g.Status = state.GroupPaused
			if !req.Wait {
				for _, t := range d.State.FilterTasksOfGroup(func(t *state.Task) bool { return t.Status.Phase == state.PhaseRunning }, name).Matching {
					ids = append(ids, t.ID)
				}
			}
		}
	}
	var pauseIds []int
	for _, id := range ids {
		if t, ok := d.State.Task(id); ok && t.Status.Phase == state.PhaseRunning {
			t.Status = state.Paused(t.Status.Start)
			pauseIds = append(pauseIds, id)
		}
	}
	if len(pauseIds) > 0 {
		d.emit(Hint{Kind: HintSignalGroup, Ids: pauseIds, Signal: "STOP"})
	}
	return wire.Success("paused")
}

// handleKill implements Kill.
func (d *Dispatcher) handleKill(req wire.Request) wire.Response {
	ids, groups := d.resolveSelection(req.Selection)
	if req.Selection.Kind == wire.SelectionGroup || req.Selection.Kind == wire.SelectionAll {
		for _, name := range groups {
			for _, t := range d.State.FilterTasksOfGroup(func(t *state.Task) bool { return t.Status.Phase == state.PhaseRunning }, name).Matching {
				ids = append(ids, t.ID)
			}
		}
	}

	if req.Signal == "" {
		// terminate: pause the affected groups so replacements don't spawn.
		affectedGroups := make(map[string]bool)
		for _, id := range ids {
			if t, ok := d.State.Task(id); ok {
				affectedGroups[t.Group] = true
			}
		}
		var names []string
		for name := range affectedGroups {
			if g, ok := d.State.Group(name); ok {
				g.Status = state.GroupPaused
			}
			names = append(names, name)
		}
		d.emit(Hint{Kind: HintSignalGroup, Ids: ids, Signal: "TERM"})
		d.emit(Hint{Kind: HintPauseGroups, Groups: names})
	} else {
		d.emit(Hint{Kind: HintSignalGroup, Ids: ids, Signal: req.Signal})
	}
	return wire.Success(fmt.Sprintf("signalled %d task(s)", len(ids)))
}

func (d *Dispatcher) resolveSelection(sel wire.Selection) (ids []int, groups []string) {
	switch sel.Kind {
	case wire.SelectionAll:
		return nil, d.State.GroupNames()
	case wire.SelectionGroup:
		return nil, []string{sel.Group}
	case wire.SelectionIds:
		return sel.Ids, nil
	default:
		return nil, nil
	}
}

// handleSend writes input to a running task's stdin via the registry.
func (d *Dispatcher) handleSend(req wire.Request) wire.Response {
	t, ok := d.State.Task(req.TaskID)
	if !ok || t.Status.Phase != state.PhaseRunning {
		return wire.Failure(fmt.Sprintf("task %d is not running", req.TaskID))
	}
	child, ok := d.Registry.Get(req.TaskID)
	if !ok || child.Stdin == nil {
		return wire.Failure(fmt.Sprintf("task %d has no open stdin", req.TaskID))
	}
	if _, err := child.Stdin.Write([]byte(req.Input)); err != nil {
		return wire.Failure(fmt.Sprintf("write to task %d stdin: %v", req.TaskID, err))
	}
	return wire.Success("sent")
}

// handleRestart implements Restart (in-place only; not-in-place restart
// is a client-side convenience emulated by issuing a fresh Add instead).
// An in-place request naming an existing task that is not Done fails
// without changing any task.
func (d *Dispatcher) handleRestart(req wire.Request) wire.Response {
	for _, item := range req.RestartItems {
		if t, ok := d.State.Task(item.TaskID); ok && req.InPlace && t.Status.Phase != state.PhaseDone {
			return wire.Failure(fmt.Sprintf("task %d is not done and cannot be restarted", item.TaskID))
		}
	}

	var startIds []int
	n := 0
	for _, item := range req.RestartItems {
		t, ok := d.State.Task(item.TaskID)
		if !ok || !req.InPlace || t.Status.Phase != state.PhaseDone {
			continue
		}
		t.OriginalCommand = item.OriginalCommand
		t.Command = expandAlias(item.OriginalCommand, d.Config.Aliases)
		t.Path = item.Path
		t.Label = item.Label
		t.Priority = item.Priority

		if req.Stashed {
			t.Status = state.Stashed(nil)
		} else {
			t.Status = state.Queued(state.Now())
		}
		n++
		if req.StartImmediate {
			startIds = append(startIds, t.ID)
		}
	}
	if len(startIds) > 0 {
		d.emit(Hint{Kind: HintStartTasks, Ids: startIds})
	}
	return wire.Success(fmt.Sprintf("restarted %d task(s)", n))
}

// handleClean implements Clean.
func (d *Dispatcher) handleClean(req wire.Request) wire.Response {
	isDone := func(t *state.Task) bool {
		if t.Status.Phase != state.PhaseDone {
			return false
		}
		if req.SuccessfulOnly {
			return t.Status.Result.IsSuccess()
		}
		return true
	}

	var candidates []*state.Task
	if req.Group != "" {
		candidates = d.State.FilterTasksOfGroup(isDone, req.Group).Matching
	} else {
		candidates = d.State.FilterTasks(isDone, nil).Matching
	}

	n := 0
	for _, t := range candidates {
		if len(d.State.Dependents(t.ID)) > 0 {
			continue
		}
		d.State.RemoveTask(t.ID)
		n++
	}
	return wire.Success(fmt.Sprintf("cleaned %d task(s)", n))
}

// handleParallel implements Parallel.
func (d *Dispatcher) handleParallel(req wire.Request) wire.Response {
	group := req.Group
	if group == "" {
		group = state.DefaultGroupName
	}
	g, ok := d.State.Group(group)
	if !ok {
		return wire.Failure(fmt.Sprintf("group %q does not exist", group))
	}
	if req.ParallelTasks < 0 {
		return wire.Failure("parallel_tasks must be >= 0")
	}
	g.ParallelTasks = req.ParallelTasks
	return wire.Success(fmt.Sprintf("group %q parallelism set to %d", group, req.ParallelTasks))
}

// handleGroup implements Group (list/add/remove).
func (d *Dispatcher) handleGroup(req wire.Request) wire.Response {
	switch req.GroupOp {
	case wire.GroupAdd:
		group := req.Group
		if group == "" {
			return wire.Failure("group name must not be empty")
		}
		if !d.State.AddGroup(group, req.ParallelTasks) {
			return wire.Failure(fmt.Sprintf("group %q already exists", group))
		}
		return wire.Success(fmt.Sprintf("added group %q", group))

	case wire.GroupRemove:
		if req.Group == state.DefaultGroupName {
			return wire.Failure("the default group cannot be removed")
		}
		if _, ok := d.State.Group(req.Group); !ok {
			return wire.Failure(fmt.Sprintf("group %q does not exist", req.Group))
		}
		if len(d.State.FilterTasksOfGroup(func(*state.Task) bool { return true }, req.Group).Matching) > 0 {
			return wire.Failure(fmt.Sprintf("group %q still has tasks", req.Group))
		}
		d.State.RemoveGroup(req.Group)
		return wire.Success(fmt.Sprintf("removed group %q", req.Group))

	default: // GroupList
		groups := make(map[string]wire.GroupView, len(d.State.GroupNames()))
		for _, g := range d.State.Groups() {
			groups[g.Name] = wire.GroupView{Name: g.Name, ParallelTasks: g.ParallelTasks, Status: string(g.Status)}
		}
		return wire.Response{Kind: wire.RespGroup, Groups: groups}
	}
}

// handleStatus implements Status: a read-only state snapshot.
func (d *Dispatcher) handleStatus(req wire.Request) wire.Response {
	view := &wire.StateView{
		Tasks:  make(map[int]wire.TaskView),
		Groups: make(map[string]wire.GroupView),
	}
	for _, t := range d.State.Tasks() {
		if req.Group != "" && t.Group != req.Group {
			continue
		}
		view.Tasks[t.ID] = taskView(t)
	}
	for _, g := range d.State.Groups() {
		view.Groups[g.Name] = wire.GroupView{Name: g.Name, ParallelTasks: g.ParallelTasks, Status: string(g.Status)}
	}
	return wire.Response{Kind: wire.RespStatus, State: view}
}

func taskView(t *state.Task) wire.TaskView {
	v := wire.TaskView{
		ID:              t.ID,
		OriginalCommand: t.OriginalCommand,
		Command:         t.Command,
		Path:            t.Path,
		Envs:            t.Envs,
		Group:           t.Group,
		Dependencies:    t.Dependencies,
		Priority:        t.Priority,
		Label:           t.Label,
		Status:          string(t.Status.Phase),
		CreatedAt:       t.CreatedAt,
	}
	switch t.Status.Phase {
	case state.PhaseQueued:
		enq := t.Status.EnqueuedAt
		v.EnqueuedAt = &enq
	case state.PhaseRunning, state.PhasePaused:
		start := t.Status.Start
		v.Start = &start
	case state.PhaseDone:
		start, end := t.Status.Start, t.Status.End
		v.Start, v.End = &start, &end
		v.Result = string(t.Status.Result.Kind)
		if t.Status.Result.Kind == state.ResultFailed {
			code := t.Status.Result.ExitCode
			v.ExitCode = &code
		}
	}
	return v
}

// handleLog implements Log: reads task metadata plus, if
// req.Lines is set, the tail of each task's log file.
func (d *Dispatcher) handleLog(req wire.Request) wire.Response {
	ids := req.Ids
	if ids == nil {
		ids = d.State.TaskIDs()
	}
	logs := make(map[int]wire.TaskLog, len(ids))
	for _, id := range ids {
		t, ok := d.State.Task(id)
		if !ok {
			continue
		}
		entry := wire.TaskLog{Task: taskView(t)}
		if req.Lines > 0 {
			entry.Output = tailLogFile(d.Config.TaskLogPath(id), req.Lines)
		}
		logs[id] = entry
	}
	return wire.Response{Kind: wire.RespLog, Logs: logs}
}

// handleDaemonShutdown acknowledges immediately and leaves the actual
// sequence to the Scheduler Loop.
func (d *Dispatcher) handleDaemonShutdown(req wire.Request) wire.Response {
	kind := req.ShutdownKind
	if kind == "" {
		kind = wire.ShutdownGraceful
	}
	d.emit(Hint{Kind: HintShutdown, Kind2: kind})
	return wire.Success("shutting down")
}

// handleReset acknowledges immediately; the Scheduler Loop waits for
// active children to drain before wiping tasks and the log directory and
// returning groups to Running.
func (d *Dispatcher) handleReset(req wire.Request) wire.Response {
	d.emit(Hint{Kind: HintReset})
	return wire.Success("resetting")
}
