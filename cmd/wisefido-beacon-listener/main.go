package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"wisefido-beacon/common/logger"
	"wisefido-beacon/internal/config"
	"wisefido-beacon/internal/service"

	"go.uber.org/zap"
)

func main() {
	// 加载配置
	cfg, err := config.LoadListener()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化Logger
	zlog, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-beacon-listener")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	zlog.Info("Starting wisefido-beacon-listener service",
		zap.String("mqtt_broker", cfg.MQTT.Broker),
		zap.String("topic", cfg.Listener.Topic),
	)

	// 创建服务
	listenerService, err := service.NewListenerService(cfg, zlog)
	if err != nil {
		zlog.Fatal("Failed to create listener service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		errCh <- listenerService.Start(ctx)
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		zlog.Info("Received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			zlog.Error("Listener service exited", zap.Error(err))
		}
	}

	// 优雅关闭
	cancel()
	if err := listenerService.Stop(context.Background()); err != nil {
		zlog.Error("Error during shutdown", zap.Error(err))
	}

	zlog.Info("Service stopped")
}
