package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmerge/internal/policy"
	"github.com/hupe1980/segmerge/internal/resource"
	"github.com/hupe1980/segmerge/model"
)

type recorder struct {
	mu        sync.Mutex
	ran       []uint64
	installed []uint64
	finished  []uint64
}

func (r *recorder) add(dst *[]uint64, seq uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	*dst = append(*dst, seq)
}

func (r *recorder) get(src *[]uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), (*src)...)
}

func spec(est int64) *policy.Spec {
	return &policy.Spec{
		Segments:       []model.Segment{{ID: 1, LiveDocs: 1, SizeBytes: est}},
		EstimatedBytes: est,
	}
}

// gated returns a Run hook that blocks until the gate is closed or the task
// is canceled.
func gated(rec *recorder, gate <-chan struct{}) func(context.Context, *Task) error {
	return func(ctx context.Context, t *Task) error {
		rec.add(&rec.ran, t.Seq())
		select {
		case <-gate:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func newScheduler(t *testing.T, workers int, cfg Config, hooks Hooks) *Scheduler {
	t.Helper()
	s := New(cfg, resource.NewController(resource.Config{MaxWorkers: int64(workers)}), hooks, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSubmit_RunsAndInstallsInOrder(t *testing.T) {
	rec := &recorder{}
	s := newScheduler(t, 1, Config{}, Hooks{
		Run: func(_ context.Context, task *Task) error {
			rec.add(&rec.ran, task.Seq())
			task.Result = task.Seq() * 10
			return nil
		},
		Install: func(task *Task) error {
			assert.Equal(t, task.Seq()*10, task.Result)
			rec.add(&rec.installed, task.Seq())
			return nil
		},
		Finish: func(task *Task) { rec.add(&rec.finished, task.Seq()) },
	})

	var tasks []*Task
	for range 5 {
		task, err := s.Submit(spec(10))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	for i, task := range tasks {
		assert.Equal(t, uint64(i+1), task.Seq())
		require.NoError(t, task.Wait(context.Background()))
		assert.Equal(t, Succeeded, task.State())
	}

	want := []uint64{1, 2, 3, 4, 5}
	assert.Equal(t, want, rec.get(&rec.ran))
	assert.Equal(t, want, rec.get(&rec.installed))
	assert.Equal(t, want, rec.get(&rec.finished))

	st := s.Stats()
	assert.Equal(t, uint64(5), st.Submitted)
	assert.Equal(t, uint64(5), st.Succeeded)
	assert.Zero(t, st.PendingBytes)
}

func TestDispatch_FIFO(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	s := newScheduler(t, 1, Config{}, Hooks{Run: gated(rec, gate)})

	var tasks []*Task
	for range 4 {
		task, err := s.Submit(spec(1))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	assert.Eventually(t, func() bool { return s.Stats().Running == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, 3, s.Stats().Queued)

	close(gate)
	for _, task := range tasks {
		require.NoError(t, task.Wait(context.Background()))
	}
	assert.Equal(t, []uint64{1, 2, 3, 4}, rec.get(&rec.ran))
}

func TestRunFailure(t *testing.T) {
	boom := errors.New("boom")
	rec := &recorder{}
	s := newScheduler(t, 2, Config{}, Hooks{
		Run:     func(context.Context, *Task) error { return boom },
		Install: func(t *Task) error { rec.add(&rec.installed, t.Seq()); return nil },
		Finish:  func(t *Task) { rec.add(&rec.finished, t.Seq()) },
	})

	task, err := s.Submit(spec(1))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(context.Background()), boom)
	assert.Equal(t, Failed, task.State())
	assert.ErrorIs(t, task.Err(), boom)
	assert.Empty(t, rec.get(&rec.installed))
	assert.Equal(t, []uint64{1}, rec.get(&rec.finished))
	assert.Equal(t, uint64(1), s.Stats().Failed)
}

func TestInstallFailure(t *testing.T) {
	lost := errors.New("lost race")
	s := newScheduler(t, 1, Config{}, Hooks{
		Run:     func(context.Context, *Task) error { return nil },
		Install: func(*Task) error { return lost },
	})

	task, err := s.Submit(spec(1))
	require.NoError(t, err)
	assert.ErrorIs(t, task.Wait(context.Background()), lost)
	assert.Equal(t, Failed, task.State())
}

func TestRunPanicFailsTask(t *testing.T) {
	s := newScheduler(t, 1, Config{}, Hooks{
		Run: func(context.Context, *Task) error { panic("kaboom") },
	})

	task, err := s.Submit(spec(1))
	require.NoError(t, err)
	err = task.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, Failed, task.State())

	// The worker slot was returned.
	next, err := s.Submit(spec(1))
	require.NoError(t, err)
	assert.Error(t, next.Wait(context.Background()))
}

func TestTaskCancel(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	defer close(gate)
	s := newScheduler(t, 1, Config{}, Hooks{Run: gated(rec, gate)})

	first, err := s.Submit(spec(1))
	require.NoError(t, err)
	second, err := s.Submit(spec(1))
	require.NoError(t, err)

	second.Cancel()
	first.Cancel()
	assert.ErrorIs(t, first.Wait(context.Background()), context.Canceled)
	assert.ErrorIs(t, second.Wait(context.Background()), context.Canceled)
	assert.Equal(t, Aborted, first.State())
	assert.Equal(t, Aborted, second.State())
	assert.Equal(t, []uint64{1}, rec.get(&rec.ran), "canceled queued task never runs")
}

func TestClose_AbortsRunningAndDropsQueued(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	defer close(gate)
	s := New(Config{}, resource.NewController(resource.Config{MaxWorkers: 1}), Hooks{
		Run:    gated(rec, gate),
		Finish: func(t *Task) { rec.add(&rec.finished, t.Seq()) },
	}, nil)

	var tasks []*Task
	for range 3 {
		task, err := s.Submit(spec(1))
		require.NoError(t, err)
		tasks = append(tasks, task)
	}
	assert.Eventually(t, func() bool { return s.Stats().Running == 1 }, time.Second, time.Millisecond)

	s.Close()
	for _, task := range tasks {
		assert.Equal(t, Aborted, task.State())
		assert.ErrorIs(t, task.Err(), context.Canceled)
	}
	assert.Equal(t, []uint64{1}, rec.get(&rec.ran))
	assert.ElementsMatch(t, []uint64{1, 2, 3}, rec.get(&rec.finished))
	assert.Equal(t, uint64(3), s.Stats().Aborted)

	_, err := s.Submit(spec(1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.WaitIfStalled(context.Background())
	assert.ErrorIs(t, err, ErrClosed)

	s.Close()
}

func TestWaitIfStalled_NotStalled(t *testing.T) {
	s := newScheduler(t, 1, Config{MaxRunningMerges: 2}, Hooks{
		Run: func(context.Context, *Task) error { return nil },
	})
	d, err := s.WaitIfStalled(context.Background())
	require.NoError(t, err)
	assert.Zero(t, d)
	assert.False(t, s.Stalled())
}

func stall(t *testing.T, s *Scheduler, n int) []chan error {
	t.Helper()
	var results []chan error
	for i := range n {
		ch := make(chan error, 1)
		go func() {
			_, err := s.WaitIfStalled(context.Background())
			ch <- err
		}()
		require.Eventually(t, func() bool { return s.Stats().Stalled == i+1 }, time.Second, time.Millisecond)
		results = append(results, ch)
	}
	return results
}

func TestWaitIfStalled_RunningLimit(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	s := newScheduler(t, 1, Config{MaxRunningMerges: 2}, Hooks{Run: gated(rec, gate)})

	var released []uint64
	var mu sync.Mutex
	s.mu.Lock()
	s.onRelease = func(ticket uint64) {
		mu.Lock()
		defer mu.Unlock()
		released = append(released, ticket)
	}
	s.mu.Unlock()

	for range 2 {
		_, err := s.Submit(spec(1))
		require.NoError(t, err)
	}
	assert.True(t, s.Stalled())

	results := stall(t, s, 3)
	for _, ch := range results {
		select {
		case <-ch:
			t.Fatal("stalled caller released early")
		default:
		}
	}

	close(gate)
	for _, ch := range results {
		select {
		case err := <-ch:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("stalled caller never released")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, released, "released in arrival order")
}

func TestWaitIfStalled_ByteThreshold(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	s := newScheduler(t, 4, Config{StallThresholdBytes: 100}, Hooks{Run: gated(rec, gate)})

	_, err := s.Submit(spec(60))
	require.NoError(t, err)
	assert.False(t, s.Stalled())

	_, err = s.Submit(spec(60))
	require.NoError(t, err)
	assert.True(t, s.Stalled())
	assert.Equal(t, int64(120), s.Stats().PendingBytes)

	results := stall(t, s, 1)
	close(gate)
	require.NoError(t, <-results[0])
}

func TestWaitIfStalled_ContextCanceled(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	defer close(gate)
	s := newScheduler(t, 1, Config{MaxRunningMerges: 1}, Hooks{Run: gated(rec, gate)})

	_, err := s.Submit(spec(1))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	d, err := s.WaitIfStalled(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Greater(t, d, time.Duration(0))
	assert.Zero(t, s.Stats().Stalled)
}

func TestWaitIfStalled_ReleasedOnClose(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	defer close(gate)
	s := New(Config{MaxRunningMerges: 1}, resource.NewController(resource.Config{MaxWorkers: 1}), Hooks{Run: gated(rec, gate)}, nil)

	_, err := s.Submit(spec(1))
	require.NoError(t, err)
	results := stall(t, s, 2)

	s.Close()
	for _, ch := range results {
		assert.ErrorIs(t, <-ch, ErrClosed)
	}
}

func TestDrain(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	s := newScheduler(t, 2, Config{}, Hooks{Run: gated(rec, gate)})

	require.NoError(t, s.Drain(context.Background()))

	for range 3 {
		_, err := s.Submit(spec(1))
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Drain(ctx), context.DeadlineExceeded)

	close(gate)
	require.NoError(t, s.Drain(context.Background()))
	st := s.Stats()
	assert.Zero(t, st.Queued)
	assert.Zero(t, st.Running)
	assert.Equal(t, uint64(3), st.Succeeded)
}

func TestActive(t *testing.T) {
	rec := &recorder{}
	gate := make(chan struct{})
	defer close(gate)
	s := newScheduler(t, 1, Config{}, Hooks{Run: gated(rec, gate)})

	for range 3 {
		_, err := s.Submit(spec(1))
		require.NoError(t, err)
	}
	assert.Eventually(t, func() bool { return s.Stats().Running == 1 }, time.Second, time.Millisecond)

	active := s.Active()
	require.Len(t, active, 3)
	for i, sp := range active {
		assert.Equal(t, uint64(i+1), sp.Seq)
	}
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "queued", Queued.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "succeeded", Succeeded.String())
	assert.Equal(t, "aborted", Aborted.String())
	assert.Equal(t, "failed", Failed.String())
	assert.False(t, Running.Terminal())
	assert.True(t, Failed.Terminal())
}
