package detector

import (
	"context"
	"testing"
	"time"

	"wisefido-beacon/internal/metrics"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/topology"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type harness struct {
	reg       *topology.Registry
	dirty     *DirtySet
	sink      *memSink
	metrics   *metrics.Metrics
	detection *DetectionLoop
	sweeper   *Sweeper
	clock     int64
}

func newHarness(t *testing.T, params ScoringParams) *harness {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)

	h := &harness{
		reg:     topology.NewRegistry(topology.Options{HistoryCapacity: 100}),
		dirty:   NewDirtySet(),
		sink:    newMemSink(),
		metrics: m,
		clock:   1000,
	}
	h.detection = NewDetectionLoop(h.reg, h.dirty, h.sink, params, m, zap.NewNop())
	h.detection.now = func() time.Time { return time.Unix(h.clock, 0) }
	h.sweeper = NewSweeper(h.reg, h.dirty, h.sink, m, zap.NewNop())
	h.sweeper.now = func() time.Time { return time.Unix(h.clock, 0) }
	return h
}

// read 模拟 intake：写入拓扑并标记 dirty
func (h *harness) read(gw, tag string, rssi int) {
	h.reg.Upsert(&models.Reading{GatewayID: gw, TagID: tag, RSSI: rssi, Timestamp: h.clock})
	h.dirty.Mark(tag)
}

func (h *harness) detect(t *testing.T) {
	require.NoError(t, h.detection.Tick(context.Background()))
}

func (h *harness) sweep(t *testing.T) {
	require.NoError(t, h.sweeper.Tick(context.Background()))
}

func TestDetection_EmitsDetectedOncePerEpisode(t *testing.T) {
	h := newHarness(t, testParams)

	for i := 0; i < 5; i++ {
		h.read("A", "T1", -70)
		h.read("B", "T1", -85)
		h.detect(t)
		h.clock++
	}

	assert.Equal(t, []models.EventKind{models.EventDetected}, h.sink.eventsFor("T1"))
	assert.Equal(t, "A", h.sink.events[0].Gateway)
	assert.Equal(t, int64(1000), h.sink.events[0].Timestamp)

	snap, ok := h.sink.snapshot("T1")
	require.True(t, ok)
	assert.Equal(t, []string{"A"}, snap.Gateways)
	assert.Equal(t, int64(1004), snap.Timestamp)

	hb, ok := h.sink.heartbeats["A"]
	require.True(t, ok)
	assert.Equal(t, models.GatewayStatusOnline, hb.Status)
	assert.NotContains(t, h.sink.heartbeats, "B")

	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.Transitions.WithLabelValues("detected")))
}

func TestDetection_SkipsTickWithoutNewData(t *testing.T) {
	h := newHarness(t, testParams)
	h.read("A", "T1", -70)
	h.detect(t)
	writes := h.sink.writes

	h.detect(t)
	h.detect(t)
	assert.Equal(t, writes, h.sink.writes)
}

func TestDetection_FullRescanRewritesAllSnapshots(t *testing.T) {
	h := newHarness(t, testParams)
	h.read("A", "T1", -70)
	h.read("A", "T2", -70)
	h.detect(t)
	writes := h.sink.writes

	// 只有 T2 有新数据，T1 也会被重写
	h.clock++
	h.read("A", "T2", -70)
	h.detect(t)
	assert.Equal(t, writes+2, h.sink.writes)
}

func TestDetection_BelowFreqThresholdProducesNoSnapshot(t *testing.T) {
	p := testParams
	p.FreqThreshold = 3
	h := newHarness(t, p)

	h.read("A", "T1", -60)
	h.read("A", "T1", -60)
	h.detect(t)

	_, ok := h.sink.snapshot("T1")
	assert.False(t, ok)
	assert.Empty(t, h.sink.events)
}

func TestDetection_WeakSignalDoesNotLoseTag(t *testing.T) {
	h := newHarness(t, testParams)
	h.read("A", "T1", -70)
	h.detect(t)

	// 信号转弱：不再合格，但检测循环不发 lost
	h.clock += 20
	h.read("A", "T1", -95)
	h.detect(t)
	assert.Equal(t, []models.EventKind{models.EventDetected}, h.sink.eventsFor("T1"))
}

func TestDetection_DuplicateReadingIsIdempotent(t *testing.T) {
	h := newHarness(t, testParams)
	h.read("A", "T1", -70)
	h.read("A", "T1", -70)
	h.detect(t)
	h.read("A", "T1", -70)
	h.detect(t)

	assert.Equal(t, []models.EventKind{models.EventDetected}, h.sink.eventsFor("T1"))
	snap, ok := h.sink.snapshot("T1")
	require.True(t, ok)
	assert.InDelta(t, testParams.Score(-70, 3), snap.RSSIScores["A"], 1e-9)
}

func TestDetection_EmitFailureIsRetriedNextTick(t *testing.T) {
	h := newHarness(t, testParams)
	h.sink.failEmit = 1

	h.read("A", "T1", -70)
	err := h.detection.Tick(context.Background())
	require.Error(t, err)
	assert.Empty(t, h.sink.events)
	assert.Equal(t, 1, h.dirty.Len(), "failed tag is re-marked")

	// 没有新读数，下一轮仍会重试
	h.detect(t)
	assert.Equal(t, []models.EventKind{models.EventDetected}, h.sink.eventsFor("T1"))
}

func TestDetection_CancelledContextRequeues(t *testing.T) {
	h := newHarness(t, testParams)
	h.read("A", "T1", -70)
	h.read("A", "T2", -70)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := h.detection.Tick(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, h.dirty.Len())
}

func TestDirtySet_CoalescesAndDrainsSorted(t *testing.T) {
	d := NewDirtySet()
	d.Mark("b")
	d.Mark("a")
	d.Mark("b")
	assert.Equal(t, 2, d.Len())
	assert.Equal(t, []string{"a", "b"}, d.Drain())
	assert.Nil(t, d.Drain())
}
