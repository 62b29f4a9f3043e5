package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/queue"
	"github.com/hupe1980/segmerge/internal/resource"
)

// ErrClosed is returned by operations on a closed scheduler.
var ErrClosed = errors.New("scheduler closed")

// errDropped marks queued tasks removed by Close.
var errDropped = fmt.Errorf("dropped on close: %w", context.Canceled)

// Hooks are the callbacks a Scheduler drives.
type Hooks struct {
	// Run executes the merge on a worker goroutine. It must return promptly
	// once ctx is canceled.
	Run func(ctx context.Context, t *Task) error
	// Install is called on the installer goroutine for every task whose Run
	// succeeded. An error fails the task.
	Install func(t *Task) error
	// Finish is called on the installer goroutine once per task, after it
	// reached its terminal state and before Wait returns.
	Finish func(t *Task)
}

// Config bounds the scheduler.
type Config struct {
	// MaxRunningMerges stalls flush callers while at least this many tasks
	// are queued or running. 0 disables the count limit.
	MaxRunningMerges int
	// StallThresholdBytes stalls flush callers while the estimated bytes of
	// queued and running tasks exceed it. 0 disables the byte limit.
	StallThresholdBytes int64
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Queued       int
	Running      int
	PendingBytes int64
	Stalled      int
	Submitted    uint64
	Succeeded    uint64
	Failed       uint64
	Aborted      uint64
}

type completion struct {
	task *Task
	err  error
}

type waiter struct {
	ticket uint64
	ch     chan error
}

// Scheduler runs merge tasks.
type Scheduler struct {
	cfg    Config
	rc     *resource.Controller
	hooks  Hooks
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	queue        *queue.Heap[*Task]
	running      map[uint64]*Task
	active       int
	pendingBytes int64
	nextSeq      uint64
	waiters      []*waiter
	tickets      uint64
	onRelease    func(ticket uint64)
	changed      chan struct{}
	closed       bool
	stats        Stats

	wake    chan struct{}
	doneCh  chan completion
	workers sync.WaitGroup
	loops   sync.WaitGroup
}

// New starts a scheduler. Worker slots come from rc.
func New(cfg Config, rc *resource.Controller, hooks Hooks, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:     cfg,
		rc:      rc,
		hooks:   hooks,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		queue:   queue.New(func(a, b *Task) bool { return a.Seq() < b.Seq() }, 16),
		running: make(map[uint64]*Task),
		changed: make(chan struct{}),
		wake:    make(chan struct{}, 1),
		doneCh:  make(chan completion, max(int(rc.MaxWorkers()), 1)),
	}

	s.loops.Add(2)
	go s.dispatch()
	go s.install()
	return s
}

// Submit assigns the next sequence number to spec and queues it.
func (s *Scheduler) Submit(spec *policy.Spec) (*Task, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.nextSeq++
	spec.Seq = s.nextSeq
	t := newTask(s.ctx, spec)
	s.queue.Push(t)
	s.active++
	s.pendingBytes += spec.EstimatedBytes
	s.stats.Submitted++
	s.mu.Unlock()

	s.logger.Debug("merge queued", "seq", spec.Seq, "segments", len(spec.Segments), "estimated_bytes", spec.EstimatedBytes)
	s.signal()
	return t, nil
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dispatch() {
	defer s.loops.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.wake:
		}

		for {
			if err := s.rc.AcquireWorker(s.ctx); err != nil {
				return
			}
			s.mu.Lock()
			t, ok := s.queue.Pop()
			if !ok {
				s.mu.Unlock()
				s.rc.ReleaseWorker()
				break
			}
			t.state.Store(int32(Running))
			t.started = time.Now()
			s.running[t.Seq()] = t
			s.workers.Add(1)
			s.mu.Unlock()

			go s.work(t)
		}
	}
}

func (s *Scheduler) work(t *Task) {
	defer s.workers.Done()

	s.logger.Debug("merge started", "seq", t.Seq(), "queued_for", t.QueueTime())
	err := s.run(t)
	s.rc.ReleaseWorker()
	s.doneCh <- completion{task: t, err: err}
}

func (s *Scheduler) run(t *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("merge panicked", "seq", t.Seq(), "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("merge %d panicked: %v", t.Seq(), r)
		}
	}()
	if err := t.ctx.Err(); err != nil {
		return err
	}
	return s.hooks.Run(t.ctx, t)
}

func (s *Scheduler) install() {
	defer s.loops.Done()
	for c := range s.doneCh {
		s.complete(c.task, c.err)
	}
}

func (s *Scheduler) complete(t *Task, err error) {
	if err == nil && s.hooks.Install != nil {
		err = s.hooks.Install(t)
	}

	state := Succeeded
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && t.ctx.Err() != nil:
		state = Aborted
	default:
		state = Failed
	}

	t.err = err
	t.finished = time.Now()
	t.state.Store(int32(state))
	t.cancel()

	if s.hooks.Finish != nil {
		s.hooks.Finish(t)
	}

	s.mu.Lock()
	delete(s.running, t.Seq())
	s.active--
	s.pendingBytes -= t.Spec.EstimatedBytes
	switch state {
	case Succeeded:
		s.stats.Succeeded++
	case Aborted:
		s.stats.Aborted++
	default:
		s.stats.Failed++
	}
	s.releaseWaitersLocked()
	close(s.changed)
	s.changed = make(chan struct{})
	s.mu.Unlock()

	close(t.done)

	s.logger.Debug("merge finished", "seq", t.Seq(), "state", state.String(), "duration", t.Duration())
}

func (s *Scheduler) stalledLocked() bool {
	if s.cfg.MaxRunningMerges > 0 && s.active >= s.cfg.MaxRunningMerges {
		return true
	}
	return s.cfg.StallThresholdBytes > 0 && s.pendingBytes > s.cfg.StallThresholdBytes
}

// releaseWaitersLocked releases stalled callers in arrival order while the
// backlog is below the limits.
func (s *Scheduler) releaseWaitersLocked() {
	for len(s.waiters) > 0 && !s.stalledLocked() {
		w := s.waiters[0]
		s.waiters[0] = nil
		s.waiters = s.waiters[1:]
		if s.onRelease != nil {
			s.onRelease(w.ticket)
		}
		w.ch <- nil
	}
}

// Stalled reports whether flush callers would block now.
func (s *Scheduler) Stalled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stalledLocked() || len(s.waiters) > 0
}

// WaitIfStalled blocks while the merge backlog exceeds the configured
// limits. Callers are released first come, first served. It returns how
// long the caller was stalled.
func (s *Scheduler) WaitIfStalled(ctx context.Context) (time.Duration, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return 0, ErrClosed
	}
	if !s.stalledLocked() && len(s.waiters) == 0 {
		s.mu.Unlock()
		return 0, nil
	}
	s.tickets++
	w := &waiter{ticket: s.tickets, ch: make(chan error, 1)}
	s.waiters = append(s.waiters, w)
	s.logger.Debug("flush stalled", "active", s.active, "pending_bytes", s.pendingBytes, "waiters", len(s.waiters))
	s.mu.Unlock()

	start := time.Now()
	select {
	case err := <-w.ch:
		return time.Since(start), err
	case <-ctx.Done():
		s.mu.Lock()
		if i := slices.Index(s.waiters, w); i >= 0 {
			s.waiters = slices.Delete(s.waiters, i, i+1)
			// The head may have been the only thing holding others back.
			s.releaseWaitersLocked()
			s.mu.Unlock()
			return time.Since(start), ctx.Err()
		}
		s.mu.Unlock()
		return time.Since(start), <-w.ch
	}
}

// Active returns the specs of queued and running tasks, in sequence order.
func (s *Scheduler) Active() []*policy.Spec {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*policy.Spec, 0, s.active)
	for _, t := range s.running {
		out = append(out, t.Spec)
	}
	for _, t := range s.queue.Items() {
		out = append(out, t.Spec)
	}
	slices.SortFunc(out, func(a, b *policy.Spec) int {
		switch {
		case a.Seq < b.Seq:
			return -1
		case a.Seq > b.Seq:
			return 1
		}
		return 0
	})
	return out
}

// Drain blocks until no task is queued or running.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		if s.active == 0 {
			s.mu.Unlock()
			return nil
		}
		ch := s.changed
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns counters and gauges.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.stats
	st.Queued = s.queue.Len()
	st.Running = len(s.running)
	st.PendingBytes = s.pendingBytes
	st.Stalled = len(s.waiters)
	return st
}

// Close stops the scheduler. Queued tasks are dropped as aborted, running
// tasks are canceled and stalled callers are released with ErrClosed. Close
// returns once every task reached a terminal state.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	dropped := s.queue.Drain()
	for _, w := range s.waiters {
		w.ch <- ErrClosed
	}
	s.waiters = nil
	s.mu.Unlock()

	s.cancel()

	// The installer is still consuming, so these sends make progress.
	go func() {
		for _, t := range dropped {
			s.doneCh <- completion{task: t, err: errDropped}
		}
		s.workers.Wait()
		close(s.doneCh)
	}()
	s.loops.Wait()

	if len(dropped) > 0 {
		s.logger.Info("dropped queued merges", "count", len(dropped))
	}
}
