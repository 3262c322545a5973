package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"wisefido-beacon/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.IncReadingAccepted()
	m.IncReadingAccepted()
	m.IncReadingRejected("malformed")
	m.IncTransition(models.EventDetected)
	m.IncTransition(models.EventLost)
	m.IncSinkFailure("write_snapshot", errors.New("boom"))
	m.SetTopology(2, 5)
	m.ObserveTick(LoopDetection, 3*time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.ReadingsAccepted))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReadingsRejected.WithLabelValues("malformed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("detected")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.Transitions.WithLabelValues("lost")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkFailures.WithLabelValues("write_snapshot")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Gateways))
	assert.Equal(t, float64(5), testutil.ToFloat64(m.Tags))

	s := m.Snapshot()
	assert.Equal(t, int64(2), s.ReadingsAccepted)
	assert.Equal(t, int64(1), s.ReadingsRejected)
	assert.Equal(t, int64(1), s.Detected)
	assert.Equal(t, int64(1), s.Lost)
	assert.Equal(t, int64(1), s.SinkFailures)
}

func TestMetrics_DoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.IncReadingAccepted()
	m.IncTransition(models.EventDetected)
	m.SetTopology(1, 1)
	m.SetPendingFinalizations(3)
	assert.Equal(t, Stats{}, m.Snapshot())
}

func TestMetrics_ReportFieldsIncludePendingAndExtras(t *testing.T) {
	m, err := New(prometheus.NewRegistry())
	require.NoError(t, err)

	m.SetPendingFinalizations(2)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PendingFinals))

	fields := m.reportFields(func() []zap.Field {
		return []zap.Field{zap.Int("dirty_tags", 4)}
	})
	byKey := make(map[string]zap.Field, len(fields))
	for _, f := range fields {
		byKey[f.Key] = f
	}
	assert.Equal(t, int64(2), byKey["pending_finalizations"].Integer)
	assert.Equal(t, int64(4), byKey["dirty_tags"].Integer)

	assert.NotContains(t, fieldKeys(m.reportFields(nil)), "dirty_tags")
}

func fieldKeys(fields []zap.Field) []string {
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	return keys
}

func TestHandler_ServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)
	m.IncReadingAccepted()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "beacon_presence_readings_accepted_total 1"))
}
