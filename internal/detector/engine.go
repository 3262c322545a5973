package detector

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Engine 在同一个 goroutine 中按各自周期驱动检测与清理，
// 两者的 Sink 写入因此不会交错。
type Engine struct {
	detection         *DetectionLoop
	sweeper           *Sweeper
	detectionInterval time.Duration
	sweepInterval     time.Duration
	logger            *zap.Logger
}

// NewEngine 创建引擎
func NewEngine(detection *DetectionLoop, sweeper *Sweeper, detectionInterval, sweepInterval time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		detection:         detection,
		sweeper:           sweeper,
		detectionInterval: detectionInterval,
		sweepInterval:     sweepInterval,
		logger:            logger,
	}
}

// Start 运行直到 ctx 取消。单轮失败只记录日志，不中断循环。
func (e *Engine) Start(ctx context.Context) error {
	detectTicker := time.NewTicker(e.detectionInterval)
	defer detectTicker.Stop()
	sweepTicker := time.NewTicker(e.sweepInterval)
	defer sweepTicker.Stop()

	e.logger.Info("Presence engine started",
		zap.Duration("detection_interval", e.detectionInterval),
		zap.Duration("sweep_interval", e.sweepInterval),
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Presence engine stopped")
			return nil
		case <-detectTicker.C:
			if err := e.detection.Tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("Detection tick failed", zap.Error(err))
			}
		case <-sweepTicker.C:
			if err := e.sweeper.Tick(ctx); err != nil && ctx.Err() == nil {
				e.logger.Error("Sweep tick failed", zap.Error(err))
			}
		}
	}
}
