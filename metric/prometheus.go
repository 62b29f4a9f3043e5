// Package metric exports segmerge events as Prometheus metrics.
//
// Example:
//
//	reg := prometheus.NewRegistry()
//	obs, _ := metric.NewPrometheusObserver(reg)
//	idx, _ := segmerge.Open("./data", segmerge.WithMetricsObserver(obs))
//	http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
package metric

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hupe1980/segmerge"
)

// Status label values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusAborted = "aborted"
)

// PrometheusObserver implements segmerge.MetricsObserver.
type PrometheusObserver struct {
	flushes       *prometheus.CounterVec
	flushLatency  prometheus.Histogram
	flushedDocs   prometheus.Counter
	merges        *prometheus.CounterVec
	mergeLatency  prometheus.Histogram
	mergeInputs   prometheus.Histogram
	mergedDocs    prometheus.Counter
	stalls        prometheus.Counter
	stallDuration prometheus.Histogram
	queueDepth    *prometheus.GaugeVec
	bytes         *prometheus.CounterVec
}

var _ segmerge.MetricsObserver = (*PrometheusObserver)(nil)

type options struct {
	namespace   string
	constLabels prometheus.Labels
}

// Option configures NewPrometheusObserver.
type Option func(*options)

// WithNamespace sets the metric name prefix. Defaults to "segmerge".
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithConstLabels attaches labels to every metric, e.g. the index name when
// one process runs several indexes.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(o *options) {
		o.constLabels = labels
	}
}

// NewPrometheusObserver creates the metrics and registers them with reg.
func NewPrometheusObserver(reg prometheus.Registerer, opts ...Option) (*PrometheusObserver, error) {
	o := options{namespace: "segmerge"}
	for _, opt := range opts {
		opt(&o)
	}

	p := &PrometheusObserver{
		flushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "flushes_total",
			Help:        "Total flushes by status.",
			ConstLabels: o.constLabels,
		}, []string{"status"}),
		flushLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "flush_duration_seconds",
			Help:        "Time to write a flushed segment.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: o.constLabels,
		}),
		flushedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "flushed_docs_total",
			Help:        "Documents written by flushes.",
			ConstLabels: o.constLabels,
		}),
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "merges_total",
			Help:        "Merges that reached a terminal state, by status.",
			ConstLabels: o.constLabels,
		}, []string{"status"}),
		mergeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "merge_duration_seconds",
			Help:        "Time from merge start to install.",
			Buckets:     prometheus.ExponentialBuckets(0.01, 4, 10),
			ConstLabels: o.constLabels,
		}),
		mergeInputs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "merge_input_segments",
			Help:        "Number of segments merged at once.",
			Buckets:     prometheus.LinearBuckets(2, 4, 8),
			ConstLabels: o.constLabels,
		}),
		mergedDocs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "merged_docs_total",
			Help:        "Documents written by installed merges.",
			ConstLabels: o.constLabels,
		}),
		stalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "flush_stalls_total",
			Help:        "Flushes held back by the merge backlog.",
			ConstLabels: o.constLabels,
		}),
		stallDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   o.namespace,
			Name:        "flush_stall_duration_seconds",
			Help:        "Time a flush waited for the merge backlog.",
			Buckets:     prometheus.DefBuckets,
			ConstLabels: o.constLabels,
		}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   o.namespace,
			Name:        "queue_depth",
			Help:        "Depth of background queues.",
			ConstLabels: o.constLabels,
		}, []string{"queue"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.namespace,
			Name:        "bytes_total",
			Help:        "Bytes processed by flushes and merges.",
			ConstLabels: o.constLabels,
		}, []string{"op"}),
	}

	for _, c := range []prometheus.Collector{
		p.flushes, p.flushLatency, p.flushedDocs,
		p.merges, p.mergeLatency, p.mergeInputs, p.mergedDocs,
		p.stalls, p.stallDuration, p.queueDepth, p.bytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func status(err error) string {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, context.Canceled):
		return StatusAborted
	default:
		return StatusError
	}
}

// OnFlush implements segmerge.MetricsObserver.
func (p *PrometheusObserver) OnFlush(d time.Duration, docs int, err error) {
	p.flushes.WithLabelValues(status(err)).Inc()
	if err != nil {
		return
	}
	p.flushLatency.Observe(d.Seconds())
	p.flushedDocs.Add(float64(docs))
}

// OnMerge implements segmerge.MetricsObserver.
func (p *PrometheusObserver) OnMerge(d time.Duration, inputSegments int, outputDocs int64, err error) {
	s := status(err)
	p.merges.WithLabelValues(s).Inc()
	if s != StatusSuccess {
		return
	}
	p.mergeLatency.Observe(d.Seconds())
	p.mergeInputs.Observe(float64(inputSegments))
	p.mergedDocs.Add(float64(outputDocs))
}

// OnStall implements segmerge.MetricsObserver.
func (p *PrometheusObserver) OnStall(d time.Duration) {
	p.stalls.Inc()
	p.stallDuration.Observe(d.Seconds())
}

// OnQueueDepth implements segmerge.MetricsObserver.
func (p *PrometheusObserver) OnQueueDepth(name string, depth int) {
	p.queueDepth.WithLabelValues(name).Set(float64(depth))
}

// OnThroughput implements segmerge.MetricsObserver.
func (p *PrometheusObserver) OnThroughput(name string, bytes int64) {
	p.bytes.WithLabelValues(name).Add(float64(bytes))
}
