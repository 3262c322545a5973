// Package metrics 提供在场检测引擎的 Prometheus 指标与周期性日志报告。
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"wisefido-beacon/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "beacon_presence"

// Loop 名称（tick 耗时直方图标签）
const (
	LoopDetection = "detection"
	LoopSweep     = "sweep"
)

// Metrics 引擎指标。所有方法对 nil 接收者安全。
type Metrics struct {
	ReadingsAccepted prometheus.Counter
	ReadingsRejected *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	SinkFailures     *prometheus.CounterVec
	Gateways         prometheus.Gauge
	Tags             prometheus.Gauge
	PendingFinals    prometheus.Gauge
	TickDuration     *prometheus.HistogramVec

	// 日志报告用的进程内计数
	accepted     atomic.Int64
	rejected     atomic.Int64
	detected     atomic.Int64
	lost         atomic.Int64
	sinkFailures atomic.Int64
	pending      atomic.Int64
	startTime    time.Time
}

// New 创建并注册指标
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		ReadingsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_accepted_total",
			Help:      "Readings applied to the topology",
		}),
		ReadingsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_rejected_total",
			Help:      "Readings dropped before reaching the topology",
		}, []string{"reason"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Detected/lost events emitted",
		}, []string{"event"}),
		SinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_failures_total",
			Help:      "Sink operations that failed after retries",
		}, []string{"op"}),
		Gateways: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gateways",
			Help:      "Gateways currently in the topology",
		}),
		Tags: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tags",
			Help:      "(gateway, tag) pairs currently in the topology",
		}),
		PendingFinals: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_finalizations",
			Help:      "Expired tags whose sink writes are waiting for the next sweep",
		}),
		TickDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tick_duration_seconds",
			Help:      "Duration of detection and sweep ticks",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}, []string{"loop"}),
		startTime: time.Now(),
	}

	for _, c := range []prometheus.Collector{
		m.ReadingsAccepted, m.ReadingsRejected, m.Transitions, m.SinkFailures,
		m.Gateways, m.Tags, m.PendingFinals, m.TickDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register presence metrics: %w", err)
		}
	}
	return m, nil
}

// IncReadingAccepted 读数已应用
func (m *Metrics) IncReadingAccepted() {
	if m == nil {
		return
	}
	m.ReadingsAccepted.Inc()
	m.accepted.Add(1)
}

// IncReadingRejected 读数被丢弃
func (m *Metrics) IncReadingRejected(reason string) {
	if m == nil {
		return
	}
	m.ReadingsRejected.WithLabelValues(reason).Inc()
	m.rejected.Add(1)
}

// IncTransition 发出转移事件
func (m *Metrics) IncTransition(kind models.EventKind) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(string(kind)).Inc()
	if kind == models.EventDetected {
		m.detected.Add(1)
	} else {
		m.lost.Add(1)
	}
}

// IncSinkFailure Sink 操作重试耗尽
func (m *Metrics) IncSinkFailure(op string, _ error) {
	if m == nil {
		return
	}
	m.SinkFailures.WithLabelValues(op).Inc()
	m.sinkFailures.Add(1)
}

// SetTopology 更新拓扑规模
func (m *Metrics) SetTopology(gateways, tags int) {
	if m == nil {
		return
	}
	m.Gateways.Set(float64(gateways))
	m.Tags.Set(float64(tags))
}

// SetPendingFinalizations 更新待重试的清理写入数
func (m *Metrics) SetPendingFinalizations(n int) {
	if m == nil {
		return
	}
	m.PendingFinals.Set(float64(n))
	m.pending.Store(int64(n))
}

// ObserveTick 记录一次 tick 耗时
func (m *Metrics) ObserveTick(loop string, d time.Duration) {
	if m == nil {
		return
	}
	m.TickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// Stats 计数快照
type Stats struct {
	ReadingsAccepted int64
	ReadingsRejected int64
	Detected         int64
	Lost             int64
	SinkFailures     int64
	Pending          int64
	Uptime           time.Duration
}

// Snapshot 获取计数快照
func (m *Metrics) Snapshot() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		ReadingsAccepted: m.accepted.Load(),
		ReadingsRejected: m.rejected.Load(),
		Detected:         m.detected.Load(),
		Lost:             m.lost.Load(),
		SinkFailures:     m.sinkFailures.Load(),
		Pending:          m.pending.Load(),
		Uptime:           time.Since(m.startTime),
	}
}

// ReportFields 报告时附加的运行时字段
type ReportFields func() []zap.Field

// Report 定期输出指标日志，直到 ctx 取消
func (m *Metrics) Report(ctx context.Context, logger *zap.Logger, interval time.Duration, extra ReportFields) {
	if m == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Metrics report", m.reportFields(extra)...)
		}
	}
}

func (m *Metrics) reportFields(extra ReportFields) []zap.Field {
	s := m.Snapshot()
	fields := []zap.Field{
		zap.Int64("readings_accepted", s.ReadingsAccepted),
		zap.Int64("readings_rejected", s.ReadingsRejected),
		zap.Int64("detected_events", s.Detected),
		zap.Int64("lost_events", s.Lost),
		zap.Int64("sink_failures", s.SinkFailures),
		zap.Int64("pending_finalizations", s.Pending),
		zap.Duration("uptime", s.Uptime),
	}
	if extra != nil {
		fields = append(fields, extra()...)
	}
	return fields
}

// Handler Prometheus 抓取端点
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
