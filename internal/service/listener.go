package service

import (
	"context"
	"fmt"

	mqttcommon "wisefido-beacon/common/mqtt"
	rediscommon "wisefido-beacon/common/redis"
	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/listener"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// ListenerService MQTT -> Redis 桥接服务
type ListenerService struct {
	config     *config.ListenerConfig
	logger     *zap.Logger
	redis      *redis.Client
	mqttClient *mqttcommon.Client
	bridge     *listener.Bridge
}

// NewListenerService 创建桥接服务
func NewListenerService(cfg *config.ListenerConfig, logger *zap.Logger) (*ListenerService, error) {
	// 初始化Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化MQTT
	mqttClient, err := mqttcommon.NewClient(&cfg.MQTT, logger)
	if err != nil {
		rediscommon.Close(redisClient)
		return nil, fmt.Errorf("failed to connect to MQTT: %w", err)
	}

	return &ListenerService{
		config:     cfg,
		logger:     logger,
		redis:      redisClient,
		mqttClient: mqttClient,
		bridge:     listener.NewBridge(mqttClient, newPublisher(cfg, redisClient), cfg.Listener.Topic, cfg.MQTT.QoS, logger),
	}, nil
}

// newPublisher 按 INTAKE_SOURCE 选择与检测服务一致的入站队列
func newPublisher(cfg *config.ListenerConfig, client *redis.Client) listener.Publisher {
	if cfg.Listener.Source == config.IntakeSourceList {
		return listener.NewListPublisher(client, cfg.Listener.List)
	}
	return listener.NewStreamPublisher(client, cfg.Listener.Stream)
}

// Start 启动桥接，阻塞直到 ctx 取消
func (s *ListenerService) Start(ctx context.Context) error {
	if err := s.bridge.Start(ctx); err != nil {
		return fmt.Errorf("failed to start beacon bridge: %w", err)
	}
	return nil
}

// Stop 停止服务
func (s *ListenerService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping beacon listener service")

	if err := s.bridge.Stop(ctx); err != nil {
		s.logger.Error("Error stopping bridge", zap.Error(err))
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redis != nil {
		rediscommon.Close(s.redis)
	}

	s.logger.Info("Beacon listener service stopped")
	return nil
}
