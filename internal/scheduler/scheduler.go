// Package scheduler implements the Scheduler Loop: the single driver that
// wakes periodically, spawns eligible tasks, reaps finished children,
// re-enqueues delayed tasks, propagates dependency failures, and drives
// shutdown/reset, expressed as a goroutine-plus-ticker loop with dense
// per-group worker slots in place of a single atomic-counter job registry.
package scheduler

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"time"

	"golang.org/x/sys/unix"

	"firestige.xyz/duskq/internal/config"
	"firestige.xyz/duskq/internal/dispatcher"
	"firestige.xyz/duskq/internal/process"
	"firestige.xyz/duskq/internal/registry"
	"firestige.xyz/duskq/internal/state"
	"firestige.xyz/duskq/internal/wire"
)

// runMode tracks whether the loop is running normally, shutting down, or
// resetting.
type runMode int

const (
	modeNormal runMode = iota
	modeShutdown
	modeReset
)

// Loop is the Scheduler Loop component.
type Loop struct {
	State    *state.State
	Registry *registry.Registry
	Config   *config.GlobalConfig
	Hints    chan dispatcher.Hint

	// ExitFunc is called once shutdown cleanup completes; overridable in
	// tests so Run doesn't actually terminate the process.
	ExitFunc func(code int)

	mode         runMode
	shutdownKind wire.ShutdownKind
	forceStart   map[int]bool
}

// New builds a Loop. Hints must be fed by the Dispatcher; Run reads it
// continuously alongside the tick ticker.
func New(st *state.State, reg *registry.Registry, cfg *config.GlobalConfig, hints chan dispatcher.Hint) *Loop {
	return &Loop{
		State:      st,
		Registry:   reg,
		Config:     cfg,
		Hints:      hints,
		ExitFunc:   os.Exit,
		forceStart: make(map[int]bool),
	}
}

// Run drives the tick loop until ctx is cancelled or shutdown/reset
// cleanup decides to stop it.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-l.Hints:
			if !ok {
				return
			}
			l.applyHint(h)
		case <-ticker.C:
			if l.Tick() {
				return
			}
		}
	}
}

func (l *Loop) applyHint(h dispatcher.Hint) {
	switch h.Kind {
	case dispatcher.HintStartTasks:
		for _, id := range h.Ids {
			l.forceStart[id] = true
		}
	case dispatcher.HintPauseGroups:
		// Group status was already flipped by the dispatcher under lock;
		// nothing further needed here.
	case dispatcher.HintSignalGroup:
		l.signalTasks(h.Ids, h.Signal)
	case dispatcher.HintShutdown:
		l.mode = modeShutdown
		l.shutdownKind = h.Kind2
	case dispatcher.HintReset:
		l.mode = modeReset
	}
}

func (l *Loop) signalTasks(ids []int, sig string) {
	s := unixSignal(sig)
	for _, id := range ids {
		child, ok := l.Registry.Get(id)
		if !ok {
			continue
		}
		if err := process.SignalGroup(child.PGID, s); err != nil {
			slog.Warn("failed to signal task", "task_id", id, "signal", sig, "error", err)
		}
	}
}

func unixSignal(name string) unix.Signal {
	switch name {
	case "STOP":
		return unix.SIGSTOP
	case "CONT":
		return unix.SIGCONT
	case "TERM":
		return unix.SIGTERM
	case "KILL":
		return unix.SIGKILL
	case "HUP":
		return unix.SIGHUP
	case "INT":
		return unix.SIGINT
	default:
		return unix.SIGTERM
	}
}

// Tick runs one full iteration of the scheduler's ordered steps (hints are
// drained by Run separately, outside the lock). Returns true once the loop
// should stop, i.e. shutdown/reset cleanup just completed.
func (l *Loop) Tick() bool {
	l.State.Lock()
	defer l.State.Unlock()

	l.reapFinished()
	l.enqueueDelayed()
	l.propagateDependencyFailures()

	if l.mode != modeNormal {
		if l.Registry.HasActiveTasks() {
			return false
		}
		return l.finishShutdownOrReset()
	}

	l.spawnEligible()
	return false
}

// reapFinished implements step 2: drain every child's exit-result channel
// non-blockingly, classify, and transition to Done.
func (l *Loop) reapFinished() {
	changed := false
	for _, child := range l.Registry.All() {
		select {
		case result := <-child.Done:
			l.finalizeChild(child, result)
			changed = true
		default:
		}
	}
	if changed {
		l.save()
	}
}

func (l *Loop) finalizeChild(child *registry.Child, result process.ExitResult) {
	t, ok := l.State.Task(child.TaskID)
	if !ok {
		l.Registry.Remove(child.TaskID)
		return
	}

	end := state.Now()
	var res state.Result
	switch {
	case result.Errored:
		res = state.Result{Kind: state.ResultErrored}
	case result.Signaled:
		res = state.Result{Kind: state.ResultKilled}
	case result.ExitCode == 0:
		res = state.Result{Kind: state.ResultSuccess}
	default:
		res = state.Result{Kind: state.ResultFailed, ExitCode: result.ExitCode}
	}

	t.Status = state.Done(t.Status.Start, end, res)
	l.Registry.Remove(child.TaskID)
}

// enqueueDelayed implements step 4.
func (l *Loop) enqueueDelayed() {
	now := state.Now()
	for _, t := range l.State.Tasks() {
		if t.Status.Phase != state.PhaseStashed || t.Status.EnqueueAt == nil {
			continue
		}
		if !t.Status.EnqueueAt.After(now) {
			t.Status = state.Queued(now)
		}
	}
}

// propagateDependencyFailures implements step 5.
func (l *Loop) propagateDependencyFailures() {
	for _, t := range l.State.Tasks() {
		if t.Status.Phase != state.PhaseQueued {
			continue
		}
		for _, depID := range t.Dependencies {
			dep, ok := l.State.Task(depID)
			if !ok || dep.Status.Phase != state.PhaseDone || dep.Status.Result.IsSuccess() {
				continue
			}
			now := state.Now()
			t.Status = state.Done(now, now, state.Result{Kind: state.ResultDependencyFailed})
			break
		}
	}
}

// finishShutdownOrReset implements step 6 once no children remain active.
func (l *Loop) finishShutdownOrReset() bool {
	switch l.mode {
	case modeShutdown:
		if err := os.Remove(l.Config.PidFilePath()); err != nil && !os.IsNotExist(err) {
			slog.Warn("failed to remove pid file", "error", err)
		}
		code := 0
		if l.shutdownKind == wire.ShutdownEmergency {
			code = 1
		}
		l.ExitFunc(code)
		return true

	case modeReset:
		for _, t := range l.State.Tasks() {
			l.State.RemoveTask(t.ID)
		}
		if err := os.RemoveAll(l.Config.TaskLogDir()); err != nil {
			slog.Warn("failed to wipe task log directory", "error", err)
		}
		if err := os.MkdirAll(l.Config.TaskLogDir(), 0o700); err != nil {
			slog.Warn("failed to recreate task log directory", "error", err)
		}
		for _, g := range l.State.Groups() {
			g.Status = state.GroupRunning
		}
		l.mode = modeNormal
		l.save()
		return false
	}
	return false
}

// spawnEligible implements step 7: compute the eligible set per group,
// ordered by priority, and spawn as many as capacity allows. A task named
// in l.forceStart (an explicit Start/Add{start_immediately} hint) spawns
// even in a Paused group and even over its parallelism cap; the group's
// own status is left untouched either way.
func (l *Loop) spawnEligible() {
	spawnedAny := false
	for _, g := range l.State.Groups() {
		paused := g.Status != state.GroupRunning
		running := l.Registry.CountGroup(g.Name)
		eligible := l.eligibleTasksForGroup(g.Name)
		for _, t := range eligible {
			forced := l.forceStart[t.ID]
			if !forced && (paused || !g.HasCapacity(running)) {
				continue
			}
			if err := l.spawn(t, g.Name); err != nil {
				slog.Error("failed to spawn task", "task_id", t.ID, "error", err)
				now := state.Now()
				t.Status = state.Done(now, now, state.Result{Kind: state.ResultFailedToSpawn, Reason: err.Error()})
				continue
			}
			delete(l.forceStart, t.ID)
			if !paused {
				running++
			}
			spawnedAny = true
		}
	}
	if spawnedAny {
		l.save()
	}
}

func (l *Loop) eligibleTasksForGroup(group string) []*state.Task {
	res := l.State.FilterTasksOfGroup(func(t *state.Task) bool {
		if t.Status.Phase != state.PhaseQueued {
			return false
		}
		for _, depID := range t.Dependencies {
			dep, ok := l.State.Task(depID)
			if !ok || dep.Status.Phase != state.PhaseDone || !dep.Status.Result.IsSuccess() {
				return false
			}
		}
		return true
	}, group)

	sort.Slice(res.Matching, func(i, j int) bool {
		a, b := res.Matching[i], res.Matching[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.Status.EnqueuedAt.Equal(b.Status.EnqueuedAt) {
			return a.Status.EnqueuedAt.Before(b.Status.EnqueuedAt)
		}
		return a.ID < b.ID
	})
	return res.Matching
}

func (l *Loop) spawn(t *state.Task, group string) error {
	workerID := l.Registry.AllocateSlot(group)

	handle, err := process.Spawn(process.Spec{
		TaskID:   t.ID,
		Group:    group,
		WorkerID: workerID,
		Command:  t.Command,
		Path:     t.Path,
		Envs:     t.Envs,
		LogPath:  l.Config.TaskLogPath(t.ID),
	}, l.Config.Shell.Command, l.Config.Shell.Flag)
	if err != nil {
		return err
	}

	done := make(chan process.ExitResult, 1)
	go func() { done <- process.Wait(handle) }()

	l.Registry.Insert(&registry.Child{
		TaskID: t.ID,
		Group:  group,
		Slot:   workerID,
		Cmd:    handle.Cmd,
		PGID:   handle.PGID,
		Stdin:  handle.Stdin,
		Done:   done,
	})

	t.Status = state.Running(state.Now())
	return nil
}

func (l *Loop) save() {
	if err := l.State.Save(l.Config.StatePath()); err != nil {
		slog.Error("state save failed, forcing emergency shutdown", "error", err)
		l.mode = modeShutdown
		l.shutdownKind = wire.ShutdownEmergency
	}
}
