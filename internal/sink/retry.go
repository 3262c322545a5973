package sink

import (
	"context"
	"time"

	"wisefido-beacon/internal/models"

	"go.uber.org/zap"
)

// RetryPolicy 写入重试策略（指数退避）
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// FailureFunc 重试耗尽时回调，op 为操作名
type FailureFunc func(op string, err error)

// RetryingSink 对下游 Sink 的每次调用做有限次数的退避重试
type RetryingSink struct {
	next      Sink
	policy    RetryPolicy
	logger    *zap.Logger
	onFailure FailureFunc
}

// NewRetryingSink 创建带重试的 Sink；onFailure 可为 nil
func NewRetryingSink(next Sink, policy RetryPolicy, logger *zap.Logger, onFailure FailureFunc) *RetryingSink {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 100 * time.Millisecond
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	return &RetryingSink{
		next:      next,
		policy:    policy,
		logger:    logger,
		onFailure: onFailure,
	}
}

func (s *RetryingSink) do(ctx context.Context, op string, fn func() error) error {
	delay := s.policy.InitialDelay
	var err error
retry:
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt >= s.policy.MaxAttempts {
			break
		}
		s.logger.Debug("Sink write failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			break retry
		case <-timer.C:
		}
		delay *= 2
		if delay > s.policy.MaxDelay {
			delay = s.policy.MaxDelay
		}
	}
	if s.onFailure != nil {
		s.onFailure(op, err)
	}
	return err
}

func (s *RetryingSink) WriteSnapshot(ctx context.Context, tagID string, snap *models.Snapshot) error {
	return s.do(ctx, "write_snapshot", func() error {
		return s.next.WriteSnapshot(ctx, tagID, snap)
	})
}

func (s *RetryingSink) DeleteSnapshot(ctx context.Context, tagID string) error {
	return s.do(ctx, "delete_snapshot", func() error {
		return s.next.DeleteSnapshot(ctx, tagID)
	})
}

func (s *RetryingSink) LastEvent(ctx context.Context, tagID string) (models.EventKind, error) {
	var kind models.EventKind
	err := s.do(ctx, "last_event", func() error {
		var err error
		kind, err = s.next.LastEvent(ctx, tagID)
		return err
	})
	return kind, err
}

// EmitTransition 事务要么整体提交要么整体失败，重试不会产生半写状态。
// 提交成功但响应丢失时可能重复投递（at-least-once）。
func (s *RetryingSink) EmitTransition(ctx context.Context, ev *models.TransitionEvent) error {
	return s.do(ctx, "emit_transition", func() error {
		return s.next.EmitTransition(ctx, ev)
	})
}

func (s *RetryingSink) TouchGateway(ctx context.Context, gatewayID string, hb *models.GatewayHeartbeat) error {
	return s.do(ctx, "touch_gateway", func() error {
		return s.next.TouchGateway(ctx, gatewayID, hb)
	})
}
