package engine

import (
	"sync/atomic"
	"time"
)

// MetricsObserver defines the interface for observing merge events.
type MetricsObserver interface {
	// OnFlush is called when a flush completes.
	OnFlush(duration time.Duration, docs int, err error)

	// OnMerge is called when a merge reaches a terminal state. err is nil
	// for installed merges and wraps context.Canceled for aborted ones.
	OnMerge(duration time.Duration, inputSegments int, outputDocs int64, err error)

	// OnStall is called when a flush was held back by the merge backlog.
	OnStall(duration time.Duration)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)

	// OnThroughput reports bytes processed.
	OnThroughput(name string, bytes int64)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (o *NoopMetricsObserver) OnFlush(duration time.Duration, docs int, err error) {}
func (o *NoopMetricsObserver) OnMerge(duration time.Duration, inputSegments int, outputDocs int64, err error) {
}
func (o *NoopMetricsObserver) OnStall(duration time.Duration)        {}
func (o *NoopMetricsObserver) OnQueueDepth(name string, depth int)   {}
func (o *NoopMetricsObserver) OnThroughput(name string, bytes int64) {}

// BasicMetricsObserver counts events in memory.
type BasicMetricsObserver struct {
	FlushCount      atomic.Int64
	FlushErrors     atomic.Int64
	FlushedDocs     atomic.Int64
	MergeCount      atomic.Int64
	MergeErrors     atomic.Int64
	MergedDocs      atomic.Int64
	MergeTotalNanos atomic.Int64
	StallCount      atomic.Int64
	StallTotalNanos atomic.Int64
	QueueDepth      atomic.Int64
	BytesRead       atomic.Int64
	BytesWritten    atomic.Int64
}

// OnFlush implements MetricsObserver.
func (b *BasicMetricsObserver) OnFlush(duration time.Duration, docs int, err error) {
	b.FlushCount.Add(1)
	if err != nil {
		b.FlushErrors.Add(1)
		return
	}
	b.FlushedDocs.Add(int64(docs))
}

// OnMerge implements MetricsObserver.
func (b *BasicMetricsObserver) OnMerge(duration time.Duration, inputSegments int, outputDocs int64, err error) {
	b.MergeCount.Add(1)
	b.MergeTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.MergeErrors.Add(1)
		return
	}
	b.MergedDocs.Add(outputDocs)
}

// OnStall implements MetricsObserver.
func (b *BasicMetricsObserver) OnStall(duration time.Duration) {
	b.StallCount.Add(1)
	b.StallTotalNanos.Add(duration.Nanoseconds())
}

// OnQueueDepth implements MetricsObserver.
func (b *BasicMetricsObserver) OnQueueDepth(name string, depth int) {
	b.QueueDepth.Store(int64(depth))
}

// OnThroughput implements MetricsObserver.
func (b *BasicMetricsObserver) OnThroughput(name string, bytes int64) {
	switch name {
	case ThroughputMergeRead:
		b.BytesRead.Add(bytes)
	default:
		b.BytesWritten.Add(bytes)
	}
}

// Throughput names reported to OnThroughput.
const (
	ThroughputFlush      = "flush"
	ThroughputMergeRead  = "merge_read"
	ThroughputMergeWrite = "merge_write"
)

// QueueMerges is the queue name reported to OnQueueDepth.
const QueueMerges = "merges"
