package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	rediscommon "wisefido-beacon/common/redis"
	"wisefido-beacon/internal/models"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Keys Redis 键名
type Keys struct {
	Snapshot    string // hash
	LastEvent   string // hash
	Heartbeat   string // hash
	EventStream string // stream
}

// RedisSink 基于 Redis 的 Sink 实现
type RedisSink struct {
	client *redis.Client
	keys   Keys
	logger *zap.Logger
}

// NewRedisSink 创建 Redis Sink
func NewRedisSink(client *redis.Client, keys Keys, logger *zap.Logger) *RedisSink {
	return &RedisSink{
		client: client,
		keys:   keys,
		logger: logger,
	}
}

// WriteSnapshot 以 JSON 写入 hash 字段
func (s *RedisSink) WriteSnapshot(ctx context.Context, tagID string, snap *models.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.Snapshot, tagID, data).Err(); err != nil {
		return fmt.Errorf("failed to write snapshot for %s: %w", tagID, err)
	}
	return nil
}

// DeleteSnapshot 删除 hash 字段
func (s *RedisSink) DeleteSnapshot(ctx context.Context, tagID string) error {
	if err := s.client.HDel(ctx, s.keys.Snapshot, tagID).Err(); err != nil {
		return fmt.Errorf("failed to delete snapshot for %s: %w", tagID, err)
	}
	return nil
}

// LastEvent 读取 Last-Event 记录
func (s *RedisSink) LastEvent(ctx context.Context, tagID string) (models.EventKind, error) {
	val, err := s.client.HGet(ctx, s.keys.LastEvent, tagID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read last event for %s: %w", tagID, err)
	}
	kind := models.EventKind(val)
	if !kind.Valid() {
		s.logger.Warn("Ignoring unknown last event value",
			zap.String("tag_id", tagID),
			zap.String("value", val),
		)
		return "", nil
	}
	return kind, nil
}

// EmitTransition 在一个 MULTI/EXEC 中 XADD 事件并 HSET Last-Event
func (s *RedisSink) EmitTransition(ctx context.Context, ev *models.TransitionEvent) error {
	values, err := rediscommon.JSONEnvelope(ev)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.keys.EventStream,
			Values: values,
		})
		pipe.HSet(ctx, s.keys.LastEvent, ev.BeaconID, string(ev.Event))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to emit %s event for %s: %w", ev.Event, ev.BeaconID, err)
	}
	return nil
}

// TouchGateway 写入网关心跳
func (s *RedisSink) TouchGateway(ctx context.Context, gatewayID string, hb *models.GatewayHeartbeat) error {
	data, err := json.Marshal(hb)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat: %w", err)
	}
	if err := s.client.HSet(ctx, s.keys.Heartbeat, gatewayID, data).Err(); err != nil {
		return fmt.Errorf("failed to write heartbeat for %s: %w", gatewayID, err)
	}
	return nil
}
