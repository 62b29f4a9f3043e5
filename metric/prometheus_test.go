package metric

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/segmerge"
	"github.com/hupe1980/segmerge/blobstore"
	"github.com/hupe1980/segmerge/testutil"
)

func gather(t *testing.T, reg *prometheus.Registry) map[string]*dto.MetricFamily {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

// counter returns the value of the series of name whose labels include
// label=value, or of its only series when label is empty.
func counter(t *testing.T, mfs map[string]*dto.MetricFamily, name, label, value string) float64 {
	t.Helper()
	mf, ok := mfs[name]
	require.True(t, ok, "metric %s not gathered", name)
	for _, m := range mf.GetMetric() {
		if label == "" {
			return m.GetCounter().GetValue()
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestObserverRecordsEvents(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	obs.OnFlush(time.Millisecond, 10, nil)
	obs.OnFlush(time.Millisecond, 5, errors.New("disk full"))
	obs.OnMerge(time.Second, 4, 40, nil)
	obs.OnMerge(time.Second, 4, 0, fmt.Errorf("merge 3: %w", context.Canceled))
	obs.OnMerge(time.Second, 2, 0, errors.New("read failed"))
	obs.OnStall(50 * time.Millisecond)
	obs.OnQueueDepth(segmerge.QueueMerges, 3)
	obs.OnThroughput(segmerge.ThroughputMergeWrite, 1024)

	mfs := gather(t, reg)
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_flushes_total", "status", StatusSuccess))
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_flushes_total", "status", StatusError))
	assert.Equal(t, 10.0, counter(t, mfs, "segmerge_flushed_docs_total", "", ""))
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_merges_total", "status", StatusSuccess))
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_merges_total", "status", StatusAborted))
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_merges_total", "status", StatusError))
	assert.Equal(t, 40.0, counter(t, mfs, "segmerge_merged_docs_total", "", ""))
	assert.Equal(t, 1.0, counter(t, mfs, "segmerge_flush_stalls_total", "", ""))
	assert.Equal(t, 1024.0, counter(t, mfs, "segmerge_bytes_total", "op", segmerge.ThroughputMergeWrite))

	depth := mfs["segmerge_queue_depth"].GetMetric()
	require.Len(t, depth, 1)
	assert.Equal(t, 3.0, depth[0].GetGauge().GetValue())

	inputs := mfs["segmerge_merge_input_segments"].GetMetric()
	require.Len(t, inputs, 1)
	assert.EqualValues(t, 1, inputs[0].GetHistogram().GetSampleCount())
}

func TestObserverOptions(t *testing.T) {
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg, WithNamespace("idx"), WithConstLabels(prometheus.Labels{"index": "orders"}))
	require.NoError(t, err)
	obs.OnStall(time.Millisecond)

	mfs := gather(t, reg)
	mf, ok := mfs["idx_flush_stalls_total"]
	require.True(t, ok)
	require.Len(t, mf.GetMetric(), 1)
	labels := mf.GetMetric()[0].GetLabel()
	require.Len(t, labels, 1)
	assert.Equal(t, "index", labels[0].GetName())
	assert.Equal(t, "orders", labels[0].GetValue())
}

func TestObserverRejectsDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	_, err = NewPrometheusObserver(reg)
	var are prometheus.AlreadyRegisteredError
	assert.True(t, errors.As(err, &are))
}

func TestObserverWiredIntoIndex(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	obs, err := NewPrometheusObserver(reg)
	require.NoError(t, err)

	idx, err := segmerge.OpenRemote(blobstore.NewMemoryStore(), segmerge.WithMetricsObserver(obs))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := idx.Flush(ctx, testutil.PrefixedDocs("doc", i*4, 4))
		require.NoError(t, err)
	}
	require.NoError(t, idx.ForceMerge(ctx, 1))
	require.NoError(t, idx.Close(ctx, true))

	mfs := gather(t, reg)
	assert.Equal(t, 3.0, counter(t, mfs, "segmerge_flushes_total", "status", StatusSuccess))
	assert.Equal(t, 12.0, counter(t, mfs, "segmerge_flushed_docs_total", "", ""))
	assert.GreaterOrEqual(t, counter(t, mfs, "segmerge_merges_total", "status", StatusSuccess), 1.0)
	assert.Greater(t, counter(t, mfs, "segmerge_bytes_total", "op", segmerge.ThroughputMergeRead), 0.0)
}
