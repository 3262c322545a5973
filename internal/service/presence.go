package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"wisefido-beacon/common/database"
	rediscommon "wisefido-beacon/common/redis"
	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/consumer"
	"wisefido-beacon/internal/detector"
	"wisefido-beacon/internal/metrics"
	"wisefido-beacon/internal/repository"
	"wisefido-beacon/internal/sink"
	"wisefido-beacon/internal/topology"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// PresenceService 信标在场检测服务
type PresenceService struct {
	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client

	registry *topology.Registry
	dirty    *detector.DirtySet
	events   *repository.PresenceEventRepository
	intake   *consumer.IntakeConsumer
	engine   *detector.Engine
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	httpServer *http.Server
	cancel     context.CancelFunc
	wg         sync.WaitGroup
}

// NewPresenceService 创建在场检测服务
func NewPresenceService(cfg *config.Config, logger *zap.Logger) (*PresenceService, error) {
	// 初始化 Redis
	redisClient := rediscommon.NewRedisClient(&cfg.Redis)
	if err := rediscommon.Ping(context.Background(), redisClient); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	// 初始化数据库（仅归档启用时）
	var db *sql.DB
	if cfg.Presence.Archive.Enabled {
		var err error
		db, err = database.NewPostgresDB(context.Background(), &cfg.Database)
		if err != nil {
			rediscommon.Close(redisClient)
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}

	s, err := newPresenceService(cfg, logger, redisClient, db)
	if err != nil {
		rediscommon.Close(redisClient)
		database.Close(db)
		return nil, err
	}
	return s, nil
}

// newPresenceService 组装引擎各组件；db 为 nil 时不归档
func newPresenceService(cfg *config.Config, logger *zap.Logger, redisClient *redis.Client, db *sql.DB) (*PresenceService, error) {
	p := &cfg.Presence

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(promRegistry)
	if err != nil {
		return nil, err
	}

	// Sink 链：Redis -> 重试 -> （可选）归档
	var eventSink sink.Sink = sink.NewRetryingSink(
		sink.NewRedisSink(redisClient, sink.Keys{
			Snapshot:    p.Keys.Snapshot,
			LastEvent:   p.Keys.LastEvent,
			Heartbeat:   p.Keys.Heartbeat,
			EventStream: p.Keys.EventStream,
		}, logger),
		sink.RetryPolicy{
			MaxAttempts:  p.Retry.MaxAttempts,
			InitialDelay: p.Retry.InitialDelay,
			MaxDelay:     p.Retry.MaxDelay,
		},
		logger,
		m.IncSinkFailure,
	)
	var repo *repository.PresenceEventRepository
	if db != nil {
		repo = repository.NewPresenceEventRepository(db, logger)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		eventSink = sink.NewArchivingSink(eventSink, repo, logger)
	}

	// 入站数据源
	var source consumer.ReadingSource
	switch p.Intake.Source {
	case config.IntakeSourceList:
		source = consumer.NewListSource(redisClient, p.Intake.List, p.Intake.BatchSize, p.Intake.BlockTimeout)
	default:
		source = consumer.NewStreamSource(redisClient, p.Intake.Stream, p.Intake.ConsumerGroup,
			p.Intake.ConsumerName, p.Intake.BatchSize, p.Intake.BlockTimeout)
	}

	registry := topology.NewRegistry(topology.Options{
		HistoryCapacity: p.HistoryCapacity,
	})
	dirty := detector.NewDirtySet()

	params := detector.ScoringParams{
		WindowSize:    p.Scoring.WindowSize,
		RSSIThreshold: p.Scoring.RSSIThreshold,
		FreqThreshold: p.Scoring.FreqThreshold,
		MaxFreq:       p.Scoring.MaxFreq,
		W1:            p.Scoring.W1,
		W2:            p.Scoring.W2,
	}
	detection := detector.NewDetectionLoop(registry, dirty, eventSink, params, m, logger)
	sweeper := detector.NewSweeper(registry, dirty, eventSink, m, logger)

	s := &PresenceService{
		config:      cfg,
		logger:      logger,
		db:          db,
		redisClient: redisClient,
		registry:    registry,
		dirty:       dirty,
		events:      repo,
		intake:      consumer.NewIntakeConsumer(source, registry, dirty, m, logger),
		engine:      detector.NewEngine(detection, sweeper, p.DetectionInterval, p.SweepInterval, logger),
		metrics:     m,
		gatherer:    promRegistry,
	}

	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(promRegistry))
		mux.HandleFunc("/healthz", s.handleHealth)
		if repo != nil {
			mux.HandleFunc("/events", s.handleEvents)
		}
		s.httpServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return s, nil
}

// Start 启动入站消费、检测引擎与指标端点，立即返回
func (s *PresenceService) Start(ctx context.Context) error {
	p := &s.config.Presence
	s.logger.Info("Starting beacon presence service",
		zap.String("intake_source", p.Intake.Source),
		zap.Int64("window_size", p.Scoring.WindowSize),
		zap.Int("rssi_threshold", p.Scoring.RSSIThreshold),
		zap.Int("freq_threshold", p.Scoring.FreqThreshold),
		zap.Duration("detection_interval", p.DetectionInterval),
		zap.Duration("sweep_interval", p.SweepInterval),
		zap.Bool("archive_enabled", s.db != nil),
	)

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.goRun("intake", func() error { return s.intake.Start(ctx) })
	s.goRun("engine", func() error { return s.engine.Start(ctx) })
	s.goRun("metrics_report", func() error {
		s.metrics.Report(ctx, s.logger, s.config.Metrics.ReportInterval, s.reportFields)
		return nil
	})

	if s.httpServer != nil {
		s.goRun("metrics_http", func() error {
			s.logger.Info("Metrics endpoint listening", zap.String("addr", s.httpServer.Addr))
			if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	s.logger.Info("Beacon presence service started successfully")
	return nil
}

func (s *PresenceService) goRun(name string, fn func() error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := fn(); err != nil {
			s.logger.Error("Component exited with error", zap.String("component", name), zap.Error(err))
		}
	}()
}

// Stop 停止服务，等待各 goroutine 退出（受 ctx 超时约束）后关闭连接
func (s *PresenceService) Stop(ctx context.Context) error {
	s.logger.Info("Stopping beacon presence service")

	if s.cancel != nil {
		s.cancel()
	}
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Error("Error shutting down metrics endpoint", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	var stopErr error
	select {
	case <-done:
	case <-ctx.Done():
		stopErr = fmt.Errorf("timed out waiting for components: %w", ctx.Err())
	}

	if s.redisClient != nil {
		rediscommon.Close(s.redisClient)
	}
	if s.db != nil {
		database.Close(s.db)
	}

	s.logger.Info("Beacon presence service stopped")
	return stopErr
}

// handleHealth 存活检查：Redis 可达即健康
func (s *PresenceService) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := rediscommon.Ping(ctx, s.redisClient); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	gateways, tags := s.registry.Stats()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"status":"ok","gateways":%d,"tags":%d}`, gateways, tags)
}

// reportFields 指标日志附加的拓扑与待处理规模
func (s *PresenceService) reportFields() []zap.Field {
	gateways, tags := s.registry.Stats()
	return []zap.Field{
		zap.Int("gateways", gateways),
		zap.Int("tags", tags),
		zap.Int("dirty_tags", s.dirty.Len()),
	}
}

// handleEvents 查询某个 tag 的归档事件：/events?beacon_id=T1&limit=20
func (s *PresenceService) handleEvents(w http.ResponseWriter, r *http.Request) {
	beaconID := r.URL.Query().Get("beacon_id")
	if beaconID == "" {
		http.Error(w, "beacon_id is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	events, err := s.events.ListByBeacon(r.Context(), beaconID, limit)
	if err != nil {
		s.logger.Error("Failed to list presence events", zap.String("beacon_id", beaconID), zap.Error(err))
		http.Error(w, "failed to list events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []*repository.PresenceEvent{}
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(events); err != nil {
		s.logger.Warn("Failed to write events response", zap.Error(err))
	}
}
