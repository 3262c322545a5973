// Package consumer 读数入站：从 Redis 读取网关读数，写入拓扑并通知检测循环。
package consumer

import (
	"context"
	"fmt"
	"time"

	"wisefido-beacon/internal/metrics"
	"wisefido-beacon/internal/models"
	"wisefido-beacon/internal/topology"

	"go.uber.org/zap"
)

// Notifier 接收 "tag 有新数据" 通知，必须非阻塞
type Notifier interface {
	Mark(tagID string)
}

// IntakeConsumer 读数消费者
type IntakeConsumer struct {
	source   ReadingSource
	registry *topology.Registry
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *zap.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewIntakeConsumer 创建读数消费者
func NewIntakeConsumer(
	source ReadingSource,
	registry *topology.Registry,
	notifier Notifier,
	m *metrics.Metrics,
	logger *zap.Logger,
) *IntakeConsumer {
	return &IntakeConsumer{
		source:         source,
		registry:       registry,
		notifier:       notifier,
		metrics:        m,
		logger:         logger,
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
	}
}

// Start 启动消费循环，直到 ctx 取消
func (c *IntakeConsumer) Start(ctx context.Context) error {
	if err := c.source.Init(ctx); err != nil {
		return err
	}

	c.logger.Info("Intake consumer started", zap.String("source", c.source.Name()))

	backoff := c.initialBackoff
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Intake consumer stopped")
			return nil
		default:
		}

		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error("Failed to consume readings",
				zap.String("source", c.source.Name()),
				zap.Error(err),
				zap.Duration("backoff", backoff),
			)

			// 指数退避
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
				backoff *= 2
				if backoff > c.maxBackoff {
					backoff = c.maxBackoff
				}
			}
			continue
		}
		backoff = c.initialBackoff
	}
}

// consume 读取并应用一批读数
func (c *IntakeConsumer) consume(ctx context.Context) error {
	batch, err := c.source.Fetch(ctx)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	ids := make([]string, 0, len(batch))
	for _, env := range batch {
		c.apply(env)
		if env.ID != "" {
			ids = append(ids, env.ID)
		}
	}

	// 格式错误的消息同样确认，避免反复投递
	if err := c.source.Ack(ctx, ids...); err != nil {
		return fmt.Errorf("failed to ack %d messages: %w", len(ids), err)
	}
	return nil
}

// apply 解析一条消息并写入拓扑；格式错误只记录并丢弃
func (c *IntakeConsumer) apply(env Envelope) {
	reading, err := models.ParseReading(env.Payload)
	if err != nil {
		c.metrics.IncReadingRejected("malformed")
		c.logger.Warn("Dropping malformed reading",
			zap.String("message_id", env.ID),
			zap.ByteString("payload", env.Payload),
			zap.Error(err),
		)
		return
	}

	c.registry.Upsert(reading)
	c.notifier.Mark(reading.TagID)
	c.metrics.IncReadingAccepted()

	c.logger.Debug("Reading applied",
		zap.String("gateway_id", reading.GatewayID),
		zap.String("tag_id", reading.TagID),
		zap.Int("rssi", reading.RSSI),
		zap.Int64("timestamp", reading.Timestamp),
	)
}
