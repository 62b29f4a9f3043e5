package resource

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_Workers(t *testing.T) {
	c := NewController(Config{MaxWorkers: 2})
	assert.Equal(t, int64(2), c.MaxWorkers())

	require.NoError(t, c.AcquireWorker(t.Context()))
	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.Equal(t, int64(2), c.ActiveWorkers())

	assert.False(t, c.TryAcquireWorker())

	c.ReleaseWorker()
	assert.Equal(t, int64(1), c.ActiveWorkers())
	assert.True(t, c.TryAcquireWorker())
}

func TestController_AcquireWorkerCanceled(t *testing.T) {
	c := NewController(Config{MaxWorkers: 1})
	require.NoError(t, c.AcquireWorker(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := c.AcquireWorker(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, int64(1), c.ActiveWorkers())
}

func TestController_DefaultsToOneWorker(t *testing.T) {
	c := NewController(Config{})
	assert.Equal(t, int64(1), c.MaxWorkers())
}

func TestController_NilIsUnlimited(t *testing.T) {
	var c *Controller
	require.NoError(t, c.AcquireWorker(t.Context()))
	assert.True(t, c.TryAcquireWorker())
	c.ReleaseWorker()
	require.NoError(t, c.AcquireIO(t.Context(), 1<<30))
	assert.True(t, c.TryAcquireIO(1<<30))
	assert.Zero(t, c.IOBytes())
}

func TestController_IOLimit(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1000})

	// Burst is fully available.
	assert.True(t, c.TryAcquireIO(1000))
	assert.False(t, c.TryAcquireIO(500))

	start := time.Now()
	require.NoError(t, c.AcquireIO(t.Context(), 100))
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
}

func TestController_AcquireIOLargerThanBurst(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 30})
	require.NoError(t, c.AcquireIO(t.Context(), 3<<20))
	assert.Equal(t, int64(3<<20), c.IOBytes())
}

func TestController_AcquireIOCanceled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 10})
	require.True(t, c.TryAcquireIO(10))

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	assert.Error(t, c.AcquireIO(ctx, 10))
}

func TestRateLimitedWriter(t *testing.T) {
	c := NewController(Config{})
	var buf bytes.Buffer

	w := NewRateLimitedWriter(t.Context(), &buf, c)
	_, err := w.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = w.Write([]byte("world"))
	require.NoError(t, err)

	assert.Equal(t, "hello world", buf.String())
	assert.Equal(t, int64(11), w.Written())
	assert.Equal(t, int64(11), c.IOBytes())
}

func TestRateLimitedWriter_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	w := NewRateLimitedWriter(ctx, io.Discard, NewController(Config{}))
	_, err := w.Write([]byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRateLimitedReader(t *testing.T) {
	c := NewController(Config{})
	r := NewRateLimitedReader(t.Context(), strings.NewReader("segment bytes"), c)

	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "segment bytes", string(data))
	assert.Equal(t, int64(len("segment bytes")), c.IOBytes())
}
