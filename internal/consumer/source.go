package consumer

import (
	"context"
	"errors"
	"fmt"
	"time"

	rediscommon "wisefido-beacon/common/redis"

	"github.com/go-redis/redis/v8"
)

// Envelope 从数据源取出的一条原始消息
type Envelope struct {
	ID      string // stream 消息 ID；list 来源为空
	Payload []byte
}

// ReadingSource 入站读数来源
type ReadingSource interface {
	// Init 准备数据源（如创建消费者组）
	Init(ctx context.Context) error
	// Fetch 阻塞读取一批消息，超时无数据时返回空切片
	Fetch(ctx context.Context) ([]Envelope, error)
	// Ack 确认消息已处理
	Ack(ctx context.Context, ids ...string) error
	// Name 数据源描述，用于日志
	Name() string
}

// StreamSource Redis Streams 消费者组数据源
type StreamSource struct {
	client    *redis.Client
	stream    string
	group     string
	consumer  string
	batchSize int64
	block     time.Duration
}

// NewStreamSource 创建 Streams 数据源
func NewStreamSource(client *redis.Client, stream, group, consumer string, batchSize int64, block time.Duration) *StreamSource {
	return &StreamSource{
		client:    client,
		stream:    stream,
		group:     group,
		consumer:  consumer,
		batchSize: batchSize,
		block:     block,
	}
}

func (s *StreamSource) Init(ctx context.Context) error {
	if err := rediscommon.CreateConsumerGroup(ctx, s.client, s.stream, s.group); err != nil {
		return fmt.Errorf("failed to create consumer group for %s: %w", s.stream, err)
	}
	return nil
}

func (s *StreamSource) Fetch(ctx context.Context) ([]Envelope, error) {
	messages, err := rediscommon.ReadFromStream(ctx, s.client, s.stream, s.group, s.consumer, s.batchSize, s.block)
	if err != nil {
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}
	out := make([]Envelope, 0, len(messages))
	for _, msg := range messages {
		env := Envelope{ID: msg.ID}
		// 缺少 data 字段时 Payload 为空，由解析阶段按格式错误处理
		if data, ok := msg.Data(); ok {
			env.Payload = []byte(data)
		}
		out = append(out, env)
	}
	return out, nil
}

func (s *StreamSource) Ack(ctx context.Context, ids ...string) error {
	return rediscommon.AckStream(ctx, s.client, s.stream, s.group, ids...)
}

func (s *StreamSource) Name() string {
	return "stream:" + s.stream
}

// ListSource Redis List 数据源（BLPOP），兼容早期 listener 的 beacon_data 队列
type ListSource struct {
	client    *redis.Client
	list      string
	batchSize int64
	block     time.Duration
}

// NewListSource 创建 List 数据源
func NewListSource(client *redis.Client, list string, batchSize int64, block time.Duration) *ListSource {
	return &ListSource{
		client:    client,
		list:      list,
		batchSize: batchSize,
		block:     block,
	}
}

func (s *ListSource) Init(ctx context.Context) error {
	return nil
}

// Fetch 阻塞等待第一条，其余非阻塞取出直到 batchSize
func (s *ListSource) Fetch(ctx context.Context) ([]Envelope, error) {
	res, err := s.client.BLPop(ctx, s.block, s.list).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Envelope{}, nil
		}
		return nil, fmt.Errorf("failed to pop from list %s: %w", s.list, err)
	}
	// BLPOP 返回 [key, value]
	out := []Envelope{{Payload: []byte(res[1])}}

	for int64(len(out)) < s.batchSize {
		val, err := s.client.LPop(ctx, s.list).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			// 已取出的消息仍需处理
			return out, nil
		}
		out = append(out, Envelope{Payload: []byte(val)})
	}
	return out, nil
}

// Ack list 弹出即消费，无需确认
func (s *ListSource) Ack(ctx context.Context, ids ...string) error {
	return nil
}

func (s *ListSource) Name() string {
	return "list:" + s.list
}
