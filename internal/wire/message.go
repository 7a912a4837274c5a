// Package wire defines the request/response protocol exchanged between the
// daemon and its clients, and the length-prefixed CBOR framing used to move
// it over a stream socket.
package wire

import "time"

// Selection names a set of tasks for bulk operations (start, pause, kill).
type Selection struct {
	Kind  SelectionKind `cbor:"kind"`
	Group string        `cbor:"group,omitempty"`
	Ids   []int         `cbor:"ids,omitempty"`
}

// SelectionKind discriminates the Selection union.
type SelectionKind string

const (
	SelectionAll   SelectionKind = "all"
	SelectionGroup SelectionKind = "group"
	SelectionIds   SelectionKind = "ids"
)

// ShutdownKind discriminates a graceful vs emergency daemon shutdown.
type ShutdownKind string

const (
	ShutdownGraceful  ShutdownKind = "graceful"
	ShutdownEmergency ShutdownKind = "emergency"
)

// GroupOp discriminates the Group request's sub-operation.
type GroupOp string

const (
	GroupList   GroupOp = "list"
	GroupAdd    GroupOp = "add"
	GroupRemove GroupOp = "remove"
)

// Request is the tagged union of everything a client can ask the daemon to
// do. Kind selects which fields are meaningful; unused fields are zero.
type Request struct {
	Kind Kind `cbor:"kind"`

	// Add
	OriginalCommand string            `cbor:"original_command,omitempty"`
	Path            string            `cbor:"path,omitempty"`
	Envs            map[string]string `cbor:"envs,omitempty"`
	Group           string            `cbor:"group,omitempty"`
	Dependencies    []int             `cbor:"dependencies,omitempty"`
	Priority        int               `cbor:"priority,omitempty"`
	Label           string            `cbor:"label,omitempty"`
	Stashed         bool              `cbor:"stashed,omitempty"`
	EnqueueAt       *time.Time        `cbor:"enqueue_at,omitempty"`
	StartImmediate  bool              `cbor:"start_immediately,omitempty"`

	// Remove, Stash, Enqueue, Log targets, StreamLog target
	Ids []int `cbor:"ids,omitempty"`

	// Switch
	TaskID1 int `cbor:"task_id_1,omitempty"`
	TaskID2 int `cbor:"task_id_2,omitempty"`

	// Start/Pause/Kill selection-based ops
	Selection Selection `cbor:"selection,omitempty"`
	Wait      bool      `cbor:"wait,omitempty"`
	Signal    string    `cbor:"signal,omitempty"`

	// Send
	TaskID int    `cbor:"task_id,omitempty"`
	Input  string `cbor:"input,omitempty"`

	// Restart
	RestartItems []RestartItem `cbor:"restart_items,omitempty"`
	InPlace      bool          `cbor:"in_place,omitempty"`

	// Clean
	SuccessfulOnly bool `cbor:"successful_only,omitempty"`

	// Parallel
	ParallelTasks int `cbor:"parallel_tasks,omitempty"`

	// Group
	GroupOp GroupOp `cbor:"group_op,omitempty"`

	// Log / StreamLog
	Lines int `cbor:"lines,omitempty"`

	// DaemonShutdown
	ShutdownKind ShutdownKind `cbor:"shutdown_kind,omitempty"`
}

// RestartItem is one entry of a Restart request.
type RestartItem struct {
	TaskID          int    `cbor:"task_id"`
	OriginalCommand string `cbor:"original_command"`
	Path            string `cbor:"path"`
	Label           string `cbor:"label"`
	Priority        int    `cbor:"priority"`
}

// Kind discriminates the Request union.
type Kind string

const (
	KindAdd           Kind = "add"
	KindRemove        Kind = "remove"
	KindSwitch        Kind = "switch"
	KindStash         Kind = "stash"
	KindEnqueue       Kind = "enqueue"
	KindStart         Kind = "start"
	KindPause         Kind = "pause"
	KindKill          Kind = "kill"
	KindSend          Kind = "send"
	KindRestart       Kind = "restart"
	KindClean         Kind = "clean"
	KindStatus        Kind = "status"
	KindLog           Kind = "log"
	KindStreamLog     Kind = "stream_log"
	KindParallel      Kind = "parallel"
	KindGroup         Kind = "group"
	KindDaemonShutdown Kind = "daemon_shutdown"
	KindReset         Kind = "reset"
)

// Response is the tagged union of daemon replies.
type Response struct {
	Kind ResponseKind `cbor:"kind"`

	Message string `cbor:"message,omitempty"`

	// AddedTask
	TaskID        int        `cbor:"task_id,omitempty"`
	EnqueueAt     *time.Time `cbor:"enqueue_at,omitempty"`
	GroupIsPaused bool       `cbor:"group_is_paused,omitempty"`

	// Status
	State *StateView `cbor:"state,omitempty"`

	// Log
	Logs map[int]TaskLog `cbor:"logs,omitempty"`

	// GroupResponse
	Groups map[string]GroupView `cbor:"groups,omitempty"`

	// Stream (follow-log chunk)
	Chunk []byte `cbor:"chunk,omitempty"`
	Done  bool   `cbor:"done,omitempty"`
}

// ResponseKind discriminates the Response union.
type ResponseKind string

const (
	RespSuccess     ResponseKind = "success"
	RespFailure     ResponseKind = "failure"
	RespAddedTask   ResponseKind = "added_task"
	RespStatus      ResponseKind = "status"
	RespLog         ResponseKind = "log"
	RespGroup       ResponseKind = "group"
	RespStream      ResponseKind = "stream"
)

// Success builds a success response carrying a human-readable message.
func Success(msg string) Response { return Response{Kind: RespSuccess, Message: msg} }

// Failure builds a failure response carrying a human-readable message.
func Failure(msg string) Response { return Response{Kind: RespFailure, Message: msg} }

// IsSuccess reports whether r represents a successful outcome, including the
// non-generic success-shaped variants (AddedTask, Status, Log, Group).
func (r Response) IsSuccess() bool { return r.Kind != RespFailure }

// TaskLog is one task's log entry in a Log response.
type TaskLog struct {
	Task   TaskView `cbor:"task"`
	Output []byte   `cbor:"output,omitempty"`
}

// StateView, TaskView and GroupView are read-only wire projections of the
// internal state, decoupled from internal/state so that package does not
// need to know about the wire format.
type StateView struct {
	Tasks  map[int]TaskView   `cbor:"tasks"`
	Groups map[string]GroupView `cbor:"groups"`
}

type TaskView struct {
	ID              int               `cbor:"id"`
	OriginalCommand string            `cbor:"original_command"`
	Command         string            `cbor:"command"`
	Path            string            `cbor:"path"`
	Envs            map[string]string `cbor:"envs"`
	Group           string            `cbor:"group"`
	Dependencies    []int             `cbor:"dependencies"`
	Priority        int               `cbor:"priority"`
	Label           string            `cbor:"label"`
	Status          string            `cbor:"status"`
	Result          string            `cbor:"result,omitempty"`
	ExitCode        *int              `cbor:"exit_code,omitempty"`
	CreatedAt       time.Time         `cbor:"created_at"`
	EnqueuedAt      *time.Time        `cbor:"enqueued_at,omitempty"`
	Start           *time.Time        `cbor:"start,omitempty"`
	End             *time.Time        `cbor:"end,omitempty"`
}

type GroupView struct {
	Name         string `cbor:"name"`
	ParallelTasks int   `cbor:"parallel_tasks"`
	Status       string `cbor:"status"`
}
