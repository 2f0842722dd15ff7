package stream

import "fmt"

// TaskState is the state of one chunk download within a session.
type TaskState uint8

const (
	TaskPending TaskState = iota
	TaskInFlight
	TaskReady
	TaskDelivered
	TaskFailed
	TaskCancelled
)

func (s TaskState) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in_flight"
	case TaskReady:
		return "ready"
	case TaskDelivered:
		return "delivered"
	case TaskFailed:
		return "failed"
	case TaskCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("TaskState(%d)", uint8(s))
	}
}

// transitions lists the legal successor states.
var transitions = map[TaskState][]TaskState{
	TaskPending:  {TaskInFlight, TaskCancelled},
	TaskInFlight: {TaskReady, TaskPending, TaskFailed, TaskCancelled},
	TaskReady:    {TaskDelivered, TaskPending, TaskCancelled},
}

// CanTransition reports whether a task may move from one state to another.
func CanTransition(from, to TaskState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// task tracks one chunk of the current session. Tasks are only touched with
// the Streamer mutex held.
type task struct {
	index    int
	state    TaskState
	attempts int
	// deferred is set when the payload was rejected or evicted; the task is
	// not relaunched until it comes within the near threshold of the cursor.
	deferred bool
	err      error
}

func (t *task) to(s TaskState) {
	if !CanTransition(t.state, s) {
		panic(fmt.Sprintf("stream: illegal task transition %s -> %s (chunk %d)", t.state, s, t.index))
	}
	t.state = s
}

// requeue returns a rejected or evicted task to the pending queue.
func (t *task) requeue() {
	t.to(TaskPending)
	t.deferred = true
}

func (t *task) fail(err error) {
	t.to(TaskFailed)
	t.err = err
}
