package listener

import (
	"context"
	"encoding/json"
	"fmt"

	rediscommon "wisefido-beacon/common/redis"
	"wisefido-beacon/internal/models"

	"github.com/go-redis/redis/v8"
)

// Publisher 将规范化后的读数投递到检测服务的入站队列
type Publisher interface {
	Publish(ctx context.Context, reading *models.Reading) error
	Target() string
}

// StreamPublisher 发布到 Redis Streams（data 字段）
type StreamPublisher struct {
	client redis.Cmdable
	stream string
}

// NewStreamPublisher 创建 Streams 发布器
func NewStreamPublisher(client redis.Cmdable, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream}
}

func (p *StreamPublisher) Publish(ctx context.Context, reading *models.Reading) error {
	if _, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, reading); err != nil {
		return fmt.Errorf("failed to publish to stream %s: %w", p.stream, err)
	}
	return nil
}

func (p *StreamPublisher) Target() string {
	return "stream:" + p.stream
}

// ListPublisher RPUSH 到 Redis List，与早期 beacon_data 队列兼容
type ListPublisher struct {
	client redis.Cmdable
	list   string
}

// NewListPublisher 创建 List 发布器
func NewListPublisher(client redis.Cmdable, list string) *ListPublisher {
	return &ListPublisher{client: client, list: list}
}

func (p *ListPublisher) Publish(ctx context.Context, reading *models.Reading) error {
	data, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("marshal reading: %w", err)
	}
	if err := p.client.RPush(ctx, p.list, data).Err(); err != nil {
		return fmt.Errorf("failed to push to list %s: %w", p.list, err)
	}
	return nil
}

func (p *ListPublisher) Target() string {
	return "list:" + p.list
}
