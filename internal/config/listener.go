package config

import (
	"fmt"

	"wisefido-beacon/common/config"

	"github.com/google/uuid"
)

// ListenerConfig MQTT -> Redis 桥接服务配置
type ListenerConfig struct {
	Redis config.RedisConfig
	MQTT  config.MQTTConfig

	Listener struct {
		Topic  string // 订阅主题，如 "bluetooth/+/data"
		Source string // stream 或 list，需与检测服务一致
		Stream string
		List   string
	}

	Log config.LogConfig
}

// LoadListener 加载桥接服务配置
func LoadListener() (*ListenerConfig, error) {
	cfg := &ListenerConfig{}

	cfg.Redis = config.RedisConfig{Addr: "localhost:6379"}
	cfg.Redis.LoadFromEnv("REDIS")

	cfg.MQTT = config.MQTTConfig{
		Broker:   "tcp://localhost:1883",
		ClientID: "wisefido-beacon-listener-" + uuid.NewString()[:8],
		QoS:      1,
	}
	cfg.MQTT.LoadFromEnv("MQTT")

	cfg.Listener.Topic = getEnv("BEACON_TOPIC", "bluetooth/+/data")
	cfg.Listener.Source = getEnv("INTAKE_SOURCE", IntakeSourceStream)
	cfg.Listener.Stream = getEnv("STREAM_INPUT", "beacon:data:stream")
	cfg.Listener.List = getEnv("LIST_INPUT", "beacon_data")

	cfg.Log = config.LogConfig{Level: "info", Format: "json"}
	cfg.Log.LoadFromEnv()

	switch cfg.Listener.Source {
	case IntakeSourceStream, IntakeSourceList:
	default:
		return nil, fmt.Errorf("INTAKE_SOURCE must be %q or %q, got %q", IntakeSourceStream, IntakeSourceList, cfg.Listener.Source)
	}
	if cfg.MQTT.QoS > 2 {
		return nil, fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", cfg.MQTT.QoS)
	}
	return cfg, nil
}
