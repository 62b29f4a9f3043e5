package scheduler

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/segmerge/internal/policy"
)

// State is the lifecycle state of a Task.
type State int32

const (
	Queued State = iota
	Running
	Succeeded
	Aborted
	Failed
)

func (s State) String() string {
	switch s {
	case Queued:
		return "queued"
	case Running:
		return "running"
	case Succeeded:
		return "succeeded"
	case Aborted:
		return "aborted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether s is a final state.
func (s State) Terminal() bool { return s >= Succeeded }

// Task is one submitted merge.
type Task struct {
	Spec *policy.Spec
	// Result is set by the Run hook and read by the Install hook.
	Result any

	ctx    context.Context
	cancel context.CancelFunc
	state  atomic.Int32
	done   chan struct{}
	err    error

	submitted time.Time
	started   time.Time
	finished  time.Time
}

func newTask(parent context.Context, spec *policy.Spec) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		Spec:      spec,
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		submitted: time.Now(),
	}
}

// Seq returns the submission sequence number.
func (t *Task) Seq() uint64 { return t.Spec.Seq }

// State returns the current state.
func (t *Task) State() State { return State(t.state.Load()) }

// Done is closed once the task reached a terminal state.
func (t *Task) Done() <-chan struct{} { return t.done }

// Err returns the failure or abort cause once the task reached a terminal
// state, including inside the Finish hook.
func (t *Task) Err() error {
	if !t.State().Terminal() {
		return nil
	}
	return t.err
}

// Wait blocks until the task finished and returns its error.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Duration returns how long the task ran. Valid after Done is closed.
func (t *Task) Duration() time.Duration {
	if t.started.IsZero() || t.finished.IsZero() {
		return 0
	}
	return t.finished.Sub(t.started)
}

// QueueTime returns how long the task waited for a worker.
func (t *Task) QueueTime() time.Duration {
	if t.started.IsZero() {
		return 0
	}
	return t.started.Sub(t.submitted)
}

// Cancel asks a queued or running task to stop.
func (t *Task) Cancel() { t.cancel() }
