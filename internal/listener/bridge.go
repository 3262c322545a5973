// Package listener 网关 MQTT 消息桥接：订阅 bluetooth/+/data，规范化后写入 Redis。
package listener

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	mqttcommon "wisefido-beacon/common/mqtt"

	"go.uber.org/zap"
)

// Subscriber MQTT 订阅能力（*mqttcommon.Client 实现）
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqttcommon.MessageHandler) error
	Unsubscribe(topics ...string) error
}

// Bridge MQTT -> Redis 桥接
type Bridge struct {
	subscriber Subscriber
	publisher  Publisher
	topic      string
	qos        byte
	location   *time.Location
	logger     *zap.Logger

	forwarded atomic.Int64
	dropped   atomic.Int64
}

// NewBridge 创建桥接
func NewBridge(subscriber Subscriber, publisher Publisher, topic string, qos byte, logger *zap.Logger) *Bridge {
	return &Bridge{
		subscriber: subscriber,
		publisher:  publisher,
		topic:      topic,
		qos:        qos,
		location:   time.Local,
		logger:     logger,
	}
}

// Start 订阅主题并阻塞直到 ctx 取消
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.subscriber.Subscribe(b.topic, b.qos, b.handleMessage); err != nil {
		return fmt.Errorf("failed to subscribe to beacon topic: %w", err)
	}

	b.logger.Info("Beacon bridge started",
		zap.String("topic", b.topic),
		zap.String("target", b.publisher.Target()),
	)

	<-ctx.Done()
	return nil
}

// Stop 取消订阅
func (b *Bridge) Stop(ctx context.Context) error {
	if err := b.subscriber.Unsubscribe(b.topic); err != nil {
		b.logger.Error("Failed to unsubscribe", zap.Error(err))
	}
	forwarded, dropped := b.Stats()
	b.logger.Info("Beacon bridge stopped",
		zap.Int64("forwarded", forwarded),
		zap.Int64("dropped", dropped),
	)
	return nil
}

// handleMessage 处理一条网关消息；格式错误丢弃，发布失败返回错误由 MQTT 客户端记录
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	reading, err := ParsePayload(topic, payload, b.location)
	if err != nil {
		b.dropped.Add(1)
		b.logger.Warn("Dropping malformed gateway message",
			zap.String("topic", topic),
			zap.ByteString("payload", payload),
			zap.Error(err),
		)
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.publisher.Publish(ctx, reading); err != nil {
		b.dropped.Add(1)
		return err
	}
	b.forwarded.Add(1)

	b.logger.Debug("Forwarded beacon reading",
		zap.String("gateway_id", reading.GatewayID),
		zap.String("tag_id", reading.TagID),
		zap.Int("rssi", reading.RSSI),
	)
	return nil
}

// Stats 已转发与已丢弃的消息数
func (b *Bridge) Stats() (forwarded, dropped int64) {
	return b.forwarded.Load(), b.dropped.Load()
}
