// Package state implements the daemon's authoritative in-memory task and
// group store, plus atomic snapshot persistence to disk.
package state

import "time"

// Phase is the coarse lifecycle stage of a Task.
type Phase string

const (
	PhaseQueued  Phase = "queued"
	PhaseStashed Phase = "stashed"
	PhaseRunning Phase = "running"
	PhasePaused  Phase = "paused"
	PhaseDone    Phase = "done"
	// PhaseLocked is not assigned by any handler here: Switch swaps the
	// two ids in one step under the state lock. Removal and restore still
	// treat a Locked task as not removable and demote it to Queued.
	PhaseLocked Phase = "locked"
)

// ResultKind is the terminal outcome recorded on a Done task.
type ResultKind string

const (
	ResultSuccess          ResultKind = "success"
	ResultFailed           ResultKind = "failed"
	ResultFailedToSpawn    ResultKind = "failed_to_spawn"
	ResultKilled           ResultKind = "killed"
	ResultErrored          ResultKind = "errored"
	ResultDependencyFailed ResultKind = "dependency_failed"
)

// Result carries the outcome of a Done task. ExitCode is meaningful only
// for ResultFailed; Reason only for ResultFailedToSpawn/ResultErrored.
type Result struct {
	Kind     ResultKind
	ExitCode int
	Reason   string
}

// IsSuccess reports whether this result represents a clean exit.
func (r Result) IsSuccess() bool { return r.Kind == ResultSuccess }

// Status is the tagged-union task status, expressed
// as a flat struct with phase-specific optional fields - the idiom this
// codebase uses throughout the wire layer for Rust-style enums.
type Status struct {
	Phase Phase

	// Queued
	EnqueuedAt time.Time

	// Stashed
	EnqueueAt *time.Time // nil means "wait for an explicit Enqueue/Start"

	// Running / Paused
	Start time.Time

	// Done
	End    time.Time
	Result Result
}

// Queued builds a Queued status, stamping EnqueuedAt as "now". EnqueuedAt
// is refreshed every time a task enters Queued, including re-entry from
// Stashed, so eligibility ordering reflects the most recent enqueue.
func Queued(now time.Time) Status {
	return Status{Phase: PhaseQueued, EnqueuedAt: now}
}

// Stashed builds a Stashed status with an optional scheduled enqueue time.
func Stashed(enqueueAt *time.Time) Status {
	return Status{Phase: PhaseStashed, EnqueueAt: enqueueAt}
}

// Running builds a Running status starting now.
func Running(start time.Time) Status {
	return Status{Phase: PhaseRunning, Start: start}
}

// Paused builds a Paused status, retaining the original start time.
func Paused(start time.Time) Status {
	return Status{Phase: PhasePaused, Start: start}
}

// Done builds a terminal Done status.
func Done(start, end time.Time, result Result) Status {
	return Status{Phase: PhaseDone, Start: start, End: end, Result: result}
}

// Task is a user-submitted shell command with metadata and a status.
type Task struct {
	ID int

	OriginalCommand string
	Command         string
	Path            string
	Envs            map[string]string
	Group           string
	Dependencies    []int // always sorted ascending and deduplicated
	Priority        int
	Label           string

	Status Status

	CreatedAt time.Time
}

// IsRunning reports whether the task currently occupies a worker slot.
func (t *Task) IsRunning() bool { return t.Status.Phase == PhaseRunning }

// CanBeRemoved reports whether the task's own status permits removal;
// callers must separately check for dependents.
func (t *Task) CanBeRemoved() bool {
	switch t.Status.Phase {
	case PhaseRunning, PhasePaused, PhaseLocked:
		return false
	default:
		return true
	}
}

// CanBeSwitched reports whether the task is eligible for a Switch.
func (t *Task) CanBeSwitched() bool {
	return t.Status.Phase == PhaseQueued || t.Status.Phase == PhaseStashed
}

// sortDedupDeps sorts ids ascending and removes duplicates in place,
// returning the (possibly shorter) slice. Mirrors pueue's
// `dependencies.sort_unstable(); dependencies.dedup()`.
func sortDedupDeps(ids []int) []int {
	if len(ids) < 2 {
		return ids
	}
	// simple insertion sort is fine; dependency lists are tiny in practice
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	out := ids[:1]
	for _, id := range ids[1:] {
		if out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	return out
}
