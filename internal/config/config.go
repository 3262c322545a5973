package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"wisefido-beacon/common/config"

	"github.com/google/uuid"
)

// Intake 数据源类型
const (
	IntakeSourceStream = "stream" // Redis Streams + 消费者组
	IntakeSourceList   = "list"   // Redis List (BLPOP)
)

// Config 信标在场检测服务配置
type Config struct {
	Database config.DatabaseConfig
	Redis    config.RedisConfig

	// 在场检测服务特定配置
	Presence struct {
		Intake struct {
			Source        string        // stream 或 list
			Stream        string        // 输入数据流，如 "beacon:data:stream"
			List          string        // 输入列表，如 "beacon_data"
			ConsumerGroup string        // 消费者组名称
			ConsumerName  string        // 消费者名称
			BatchSize     int64         // 单次读取条数
			BlockTimeout  time.Duration // 阻塞读取超时
		}

		Scoring struct {
			WindowSize    int64   // 滑动窗口（秒）
			RSSIThreshold int     // dBm，负数；平均值必须大于该值
			FreqThreshold int     // 窗口内最少样本数
			MaxFreq       int     // 频次归一化上限
			W1            float64 // RSSI 权重
			W2            float64 // 频次权重
		}

		DetectionInterval time.Duration // 检测周期，默认 1s
		SweepInterval     time.Duration // 超时清理周期，默认 30s
		HistoryCapacity   int           // 每个 tag 的历史容量，默认 100

		// Redis 键配置
		Keys struct {
			Snapshot    string // hash: tag_id -> 检测快照
			LastEvent   string // hash: tag_id -> detected|lost
			Heartbeat   string // hash: gateway_id -> 心跳
			EventStream string // 输出事件流
		}

		// Sink 写入重试
		Retry struct {
			MaxAttempts  int
			InitialDelay time.Duration
			MaxDelay     time.Duration
		}

		Archive struct {
			Enabled bool // 是否将转移事件归档到 PostgreSQL
		}
	}

	Metrics struct {
		Addr           string        // Prometheus 监听地址，空表示不启动
		ReportInterval time.Duration // 指标日志报告间隔
	}

	Log config.LogConfig
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database = config.DatabaseConfig{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		Database:        "owlrd",
		SSLMode:         "disable",
		MaxConns:        5,
		MaxIdle:         2,
		ConnMaxLifetime: 30 * time.Minute,
	}
	cfg.Database.LoadFromEnv("DB")

	cfg.Redis = config.RedisConfig{
		Addr:         "localhost:6379",
		DialTimeout:  5 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
	cfg.Redis.LoadFromEnv("REDIS")

	p := &cfg.Presence
	p.Intake.Source = getEnv("INTAKE_SOURCE", IntakeSourceStream)
	p.Intake.Stream = getEnv("STREAM_INPUT", "beacon:data:stream")
	p.Intake.List = getEnv("LIST_INPUT", "beacon_data")
	p.Intake.ConsumerGroup = getEnv("CONSUMER_GROUP", "beacon-presence-group")
	p.Intake.ConsumerName = getEnv("CONSUMER_NAME", defaultConsumerName())
	p.Intake.BatchSize = int64(config.EnvInt("INTAKE_BATCH_SIZE", 100))
	p.Intake.BlockTimeout = config.EnvDuration("INTAKE_BLOCK_TIMEOUT", 5*time.Second)

	// 默认值与早期 Python 处理器保持一致
	p.Scoring.WindowSize = int64(config.EnvInt("WINDOW_SIZE", 10))
	p.Scoring.RSSIThreshold = config.EnvInt("RSSI_THRESHOLD", -90)
	p.Scoring.FreqThreshold = config.EnvInt("FREQ_THRESHOLD", 3)
	p.Scoring.MaxFreq = config.EnvInt("MAX_FREQ", 10)
	p.Scoring.W1 = config.EnvFloat("W1", 0.5)
	p.Scoring.W2 = config.EnvFloat("W2", 0.5)

	p.DetectionInterval = config.EnvDuration("DETECTION_INTERVAL", time.Second)
	p.SweepInterval = config.EnvDuration("SWEEP_INTERVAL", 30*time.Second)
	p.HistoryCapacity = config.EnvInt("HISTORY_CAPACITY", 100)

	p.Keys.Snapshot = getEnv("KEY_SNAPSHOT", "beacon_state")
	p.Keys.LastEvent = getEnv("KEY_LAST_EVENT", "beacon:last_event")
	p.Keys.Heartbeat = getEnv("KEY_HEARTBEAT", "gateway:status")
	p.Keys.EventStream = getEnv("STREAM_OUTPUT", "beacon:events:stream")

	p.Retry.MaxAttempts = config.EnvInt("SINK_RETRY_ATTEMPTS", 3)
	p.Retry.InitialDelay = config.EnvDuration("SINK_RETRY_INITIAL", 100*time.Millisecond)
	p.Retry.MaxDelay = config.EnvDuration("SINK_RETRY_MAX", 2*time.Second)

	p.Archive.Enabled = config.EnvBool("ARCHIVE_ENABLED", false)

	cfg.Metrics.Addr = os.Getenv("METRICS_ADDR")
	cfg.Metrics.ReportInterval = config.EnvDuration("METRICS_REPORT_INTERVAL", 60*time.Second)

	cfg.Log = config.LogConfig{Level: "info", Format: "json"}
	cfg.Log.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验可调参数
func (c *Config) Validate() error {
	p := &c.Presence
	var errs []error
	switch p.Intake.Source {
	case IntakeSourceStream, IntakeSourceList:
	default:
		errs = append(errs, fmt.Errorf("INTAKE_SOURCE must be %q or %q, got %q", IntakeSourceStream, IntakeSourceList, p.Intake.Source))
	}
	if p.Scoring.WindowSize <= 0 {
		errs = append(errs, errors.New("WINDOW_SIZE must be positive"))
	}
	if p.Scoring.RSSIThreshold >= 0 {
		errs = append(errs, errors.New("RSSI_THRESHOLD must be negative dBm"))
	}
	if p.Scoring.FreqThreshold < 1 {
		errs = append(errs, errors.New("FREQ_THRESHOLD must be at least 1"))
	}
	if p.Scoring.MaxFreq <= 0 {
		errs = append(errs, errors.New("MAX_FREQ must be positive"))
	}
	if p.Scoring.W1 < 0 || p.Scoring.W2 < 0 {
		errs = append(errs, errors.New("W1 and W2 must not be negative"))
	}
	if p.DetectionInterval <= 0 || p.SweepInterval <= 0 {
		errs = append(errs, errors.New("DETECTION_INTERVAL and SWEEP_INTERVAL must be positive"))
	}
	if p.HistoryCapacity <= 0 {
		errs = append(errs, errors.New("HISTORY_CAPACITY must be positive"))
	}
	if p.Retry.MaxAttempts < 1 {
		errs = append(errs, errors.New("SINK_RETRY_ATTEMPTS must be at least 1"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultValue string) string {
	return config.EnvString(key, defaultValue)
}

// defaultConsumerName 主机名 + 短 uuid，保证多实例时消费者名唯一
func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "beacon-presence"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}
