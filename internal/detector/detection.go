package detector

import (
	"context"
	"fmt"
	"time"

	"wisefido-beacon/internal/metrics"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/sink"
	"wisefido-beacon/internal/topology"

	"go.uber.org/zap"
)

// DetectionLoop 评分与检测：有新数据的 tick 上全量重评。
// 一个 tag 在两次 lost 之间只发出一次 detected（以 Last-Event 为准）。
type DetectionLoop struct {
	registry *topology.Registry
	dirty    *DirtySet
	sink     sink.Sink
	params   ScoringParams
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewDetectionLoop 创建检测循环
func NewDetectionLoop(
	registry *topology.Registry,
	dirty *DirtySet,
	s sink.Sink,
	params ScoringParams,
	m *metrics.Metrics,
	logger *zap.Logger,
) *DetectionLoop {
	return &DetectionLoop{
		registry: registry,
		dirty:    dirty,
		sink:     s,
		params:   params,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Tick 执行一次检测。dirty 集合为空时跳过。
// 注意：dirty 集合只决定本轮是否重评，重评范围始终是全量（已知的低效点）。
func (d *DetectionLoop) Tick(ctx context.Context) error {
	dirty := d.dirty.Drain()
	if len(dirty) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		d.metrics.ObserveTick(metrics.LoopDetection, time.Since(start))
	}()

	now := d.now()
	eval := Evaluate(d.registry, d.params, now.Unix())

	lastSeen := float64(now.UnixNano()) / float64(time.Second)
	for _, gw := range eval.Gateways {
		hb := &models.GatewayHeartbeat{
			Status:   models.GatewayStatusOnline,
			Address:  gw.Address,
			LastSeen: lastSeen,
		}
		if err := d.sink.TouchGateway(ctx, gw.GatewayID, hb); err != nil {
			d.logger.Warn("Failed to refresh gateway heartbeat",
				zap.String("gateway_id", gw.GatewayID),
				zap.Error(err),
			)
		}
	}

	failed := 0
	for i, a := range eval.Assignments {
		if ctx.Err() != nil {
			// 剩余 tag 留待下一轮
			for _, rest := range eval.Assignments[i:] {
				d.dirty.Mark(rest.TagID)
			}
			return ctx.Err()
		}
		if err := d.apply(ctx, a); err != nil {
			failed++
			d.dirty.Mark(a.TagID)
			d.logger.Error("Failed to apply detection",
				zap.String("tag_id", a.TagID),
				zap.String("gateway_id", a.Nearest),
				zap.Error(err),
			)
		}
	}

	gateways, tags := d.registry.Stats()
	d.metrics.SetTopology(gateways, tags)

	d.logger.Debug("Detection tick",
		zap.Int("dirty_tags", len(dirty)),
		zap.Int("qualified_tags", len(eval.Assignments)),
		zap.Int("qualified_gateways", len(eval.Gateways)),
		zap.Duration("elapsed", time.Since(start)),
	)

	if failed > 0 {
		return fmt.Errorf("detection tick: %d of %d tags not persisted", failed, len(eval.Assignments))
	}
	return nil
}

// apply 写快照，并在 Last-Event 不是 detected 时发出 detected
func (d *DetectionLoop) apply(ctx context.Context, a Assignment) error {
	if err := d.sink.WriteSnapshot(ctx, a.TagID, &a.Snapshot); err != nil {
		return err
	}

	last, err := d.sink.LastEvent(ctx, a.TagID)
	if err != nil {
		return err
	}
	if last == models.EventDetected {
		return nil
	}

	ev := &models.TransitionEvent{
		Event:     models.EventDetected,
		BeaconID:  a.TagID,
		Gateway:   a.Nearest,
		Timestamp: a.NearestTimestamp,
	}
	if err := d.sink.EmitTransition(ctx, ev); err != nil {
		return err
	}
	d.metrics.IncTransition(models.EventDetected)
	d.logger.Info("Tag detected",
		zap.String("tag_id", a.TagID),
		zap.String("gateway_id", a.Nearest),
		zap.Float64("score", a.Snapshot.RSSIScores[a.Nearest]),
	)
	return nil
}
