package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/supervisor"
	"github.com/shaiso/Conveyor/internal/telemetry"
	"github.com/shaiso/Conveyor/internal/workdir"
)

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-api")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Открываем встроенную базу данных
	db, err := repo.NewDB(context.Background(), cfg.DBPath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.DBPath)

	runRepo := repo.NewRunRepo(db)
	sourceRepo := repo.NewSourceRepo(db)

	// Приватная директория для конфигов run'ов
	materializer, err := workdir.New(cfg.WorkdirRoot, logger)
	if err != nil {
		logger.Error("failed to prepare workdir", "error", err)
		os.Exit(1)
	}

	// RabbitMQ опционален: без него события просто не публикуются
	var publisher orchestrator.EventPublisher
	if cfg.AMQPURL != "" {
		conn, err := mq.NewConnection(cfg.AMQPURL, logger)
		if err != nil {
			logger.Error("failed to connect to RabbitMQ", "error", err)
			os.Exit(1)
		}
		defer conn.Close()

		if err := mq.SetupTopology(context.Background(), conn); err != nil {
			logger.Error("failed to set up topology", "error", err)
			os.Exit(1)
		}
		publisher = mq.NewPublisher(conn, logger)
		logger.Info("run events enabled", "exchange", string(mq.ExchangeEvents))
	}

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	sup := supervisor.New(supervisor.Config{
		Timeout: cfg.RunTimeout,
		Logger:  logger,
	})

	orch := orchestrator.New(orchestrator.Config{
		RunRepo:    runRepo,
		SourceRepo: sourceRepo,
		Registry:   registry.New(),
		Supervisor: sup,
		Workdir:    materializer,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
	})

	// Добиваем runs, осиротевшие после прошлого рестарта
	if err := orch.RecoverOrphans(context.Background()); err != nil {
		logger.Error("failed to recover orphaned runs", "error", err)
		os.Exit(1)
	}

	handler := api.NewHandler(api.Config{
		Orchestrator: orch,
		SourceRepo:   sourceRepo,
		Metrics:      metrics,
		Heartbeat:    cfg.HeartbeatInterval,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	handler.RegisterRoutes(mux)

	server := &http.Server{
		Addr:    cfg.Addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Ожидаем сигнал завершения
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	// Убиваем дочерние процессы и дожидаемся финализации всех runs
	orch.Shutdown()

	logger.Info("stopped")
}
