package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "fleet-telemetry/common/logger"
	"fleet-telemetry/internal/config"
	"fleet-telemetry/internal/models"
	"fleet-telemetry/internal/service"

	"go.uber.org/zap"
)

const shutdownTimeout = 30 * time.Second

func main() {
	once := flag.Bool("once", false, "run one sync pass per entity kind and exit")
	kind := flag.String("kind", "", "limit -once to a single entity kind (LogRecord, ExceptionEvent, StatusData)")
	flag.Parse()

	// 加载配置
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	log, err := logpkg.NewLogger(cfg.Log.Level, cfg.Log.Format, "fleet-sync")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	svc, err := service.NewSyncService(cfg, log)
	if err != nil {
		log.Fatal("Failed to create sync service", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听系统信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if *once {
		kinds := cfg.Sync.Kinds
		if *kind != "" {
			k, err := models.ParseEntityKind(*kind)
			if err != nil {
				log.Fatal("Invalid entity kind", zap.Error(err))
			}
			kinds = []models.EntityKind{k}
		}

		go func() {
			<-sigChan
			cancel()
		}()

		results, err := svc.RunAll(ctx, kinds)
		for _, r := range results {
			log.Info("Pass result",
				zap.String("entity", string(r.Entity)),
				zap.Int("fetched", r.Fetched),
				zap.Int("written", r.Written),
				zap.Int("rejected", r.Rejected),
				zap.String("to_version", r.ToVersion),
			)
		}
		if stopErr := svc.Stop(context.Background()); stopErr != nil {
			log.Error("Error stopping service", zap.Error(stopErr))
		}
		if err != nil {
			log.Error("Sync finished with errors", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	log.Info("Starting fleet-sync service")

	errChan := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := svc.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	// 等待信号或错误
	select {
	case sig := <-sigChan:
		log.Info("Received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	case err := <-errChan:
		log.Error("Service error", zap.Error(err))
		cancel()
	}

	// 等正在进行的同步结束后再关闭连接
	stopCtx, stopCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stopCancel()
	select {
	case <-done:
	case <-stopCtx.Done():
		log.Warn("Timed out waiting for sync passes to finish")
	}

	if err := svc.Stop(stopCtx); err != nil {
		log.Error("Error stopping service", zap.Error(err))
	}

	log.Info("Service stopped")
}
