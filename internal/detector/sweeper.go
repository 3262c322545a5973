package detector

import (
	"context"
	"sort"
	"time"

	"wisefido-beacon/internal/metrics"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/sink"
	"wisefido-beacon/internal/topology"

	"go.uber.org/zap"
)

// Sweeper 超时清理：两阶段存活标记，过期 tag 发出 lost 并删除快照。
// tag 只在部分网关下过期时，快照同样删除，并标记 dirty 交由检测循环按剩余网关重写。
type Sweeper struct {
	registry *topology.Registry
	dirty    *DirtySet
	sink     sink.Sink
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time

	// 已从拓扑移除、但 lost / 删除快照未写入成功的 tag，下一轮重试
	pending map[string]topology.Expiry
	// 部分过期后快照删除失败的 tag
	stale map[string]struct{}
}

// NewSweeper 创建清理器
func NewSweeper(registry *topology.Registry, dirty *DirtySet, s sink.Sink, m *metrics.Metrics, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		registry: registry,
		dirty:    dirty,
		sink:     s,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		pending:  make(map[string]topology.Expiry),
		stale:    make(map[string]struct{}),
	}
}

// Tick 执行一次清理
func (s *Sweeper) Tick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.ObserveTick(metrics.LoopSweep, time.Since(start))
	}()

	now := s.now().Unix()
	s.retryPending(ctx, now)
	s.retryStale(ctx)

	expired := s.registry.Sweep()
	var firstErr error
	for _, exp := range expired {
		if !exp.Gone {
			// 仍被其他网关观察到，本 episode 未结束
			s.logger.Debug("Tag expired under gateway but still observed",
				zap.String("tag_id", exp.TagID),
				zap.Strings("gateways", exp.Gateways),
			)
			if err := s.invalidate(ctx, exp.TagID); err != nil {
				s.stale[exp.TagID] = struct{}{}
				if firstErr == nil {
					firstErr = err
				}
				s.logger.Error("Failed to drop stale snapshot, will retry",
					zap.String("tag_id", exp.TagID),
					zap.Error(err),
				)
			}
			continue
		}
		if err := s.lose(ctx, exp, now); err != nil {
			s.pending[exp.TagID] = exp
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Error("Failed to finalize expired tag, will retry",
				zap.String("tag_id", exp.TagID),
				zap.Error(err),
			)
		}
	}

	gateways, tags := s.registry.Stats()
	s.metrics.SetTopology(gateways, tags)
	s.metrics.SetPendingFinalizations(s.pendingCount())
	return firstErr
}

// lose 发出 lost（Last-Event 不存在或为 detected 时）并删除快照
func (s *Sweeper) lose(ctx context.Context, exp topology.Expiry, now int64) error {
	last, err := s.sink.LastEvent(ctx, exp.TagID)
	if err != nil {
		return err
	}
	if last != models.EventLost {
		ev := &models.TransitionEvent{
			Event:     models.EventLost,
			BeaconID:  exp.TagID,
			Gateway:   exp.LastGateway,
			Timestamp: now,
		}
		if err := s.sink.EmitTransition(ctx, ev); err != nil {
			return err
		}
		s.metrics.IncTransition(models.EventLost)
		s.logger.Info("Tag lost",
			zap.String("tag_id", exp.TagID),
			zap.String("gateway_id", exp.LastGateway),
			zap.Int64("last_seen", exp.LastTimestamp),
		)
	}
	return s.sink.DeleteSnapshot(ctx, exp.TagID)
}

// invalidate 删除仍引用已过期网关的快照，并让下一轮检测按剩余网关重新评估
func (s *Sweeper) invalidate(ctx context.Context, tagID string) error {
	s.dirty.Mark(tagID)
	return s.sink.DeleteSnapshot(ctx, tagID)
}

func (s *Sweeper) retryStale(ctx context.Context) {
	for tagID := range s.stale {
		if !s.registry.Observed(tagID) {
			// 已全部过期，由 lost 流程删除快照
			delete(s.stale, tagID)
			continue
		}
		if err := s.invalidate(ctx, tagID); err != nil {
			s.logger.Warn("Retry of stale snapshot delete failed",
				zap.String("tag_id", tagID),
				zap.Error(err),
			)
			continue
		}
		delete(s.stale, tagID)
	}
}

func (s *Sweeper) retryPending(ctx context.Context, now int64) {
	if len(s.pending) == 0 {
		return
	}
	tagIDs := make([]string, 0, len(s.pending))
	for tagID := range s.pending {
		tagIDs = append(tagIDs, tagID)
	}
	sort.Strings(tagIDs)

	for _, tagID := range tagIDs {
		if s.registry.Observed(tagID) {
			// 在重试前重新出现：episode 延续，不再发 lost
			delete(s.pending, tagID)
			continue
		}
		if err := s.lose(ctx, s.pending[tagID], now); err != nil {
			s.logger.Warn("Retry of expired tag failed",
				zap.String("tag_id", tagID),
				zap.Error(err),
			)
			continue
		}
		delete(s.pending, tagID)
	}
}

// pendingCount 待重试的过期 tag 数（含部分过期后待删除的快照）
func (s *Sweeper) pendingCount() int {
	return len(s.pending) + len(s.stale)
}
