package segmerge

import (
	"github.com/hupe1980/segmerge/internal/engine"
)

// MetricsObserver receives flush, merge, stall and throughput events.
// Implement this interface to integrate with monitoring systems; the metric
// package ships a Prometheus implementation.
//
// Example:
//
//	type mergeCounter struct {
//	    segmerge.NoopMetricsObserver
//	    merges atomic.Int64
//	}
//
//	func (c *mergeCounter) OnMerge(d time.Duration, inputs int, docs int64, err error) {
//	    c.merges.Add(1)
//	}
type MetricsObserver = engine.MetricsObserver

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver = engine.NoopMetricsObserver

// BasicMetricsObserver counts events in memory.
// Useful for debugging and tests without external dependencies.
type BasicMetricsObserver = engine.BasicMetricsObserver

// Names passed to MetricsObserver.OnThroughput and OnQueueDepth.
const (
	ThroughputFlush      = engine.ThroughputFlush
	ThroughputMergeRead  = engine.ThroughputMergeRead
	ThroughputMergeWrite = engine.ThroughputMergeWrite
	QueueMerges          = engine.QueueMerges
)
