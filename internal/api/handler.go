package api

import (
	"log/slog"
	"time"

	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

// Handler — главный обработчик API с зависимостями.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	sourceRepo   *repo.SourceRepo
	metrics      *telemetry.Metrics
	heartbeat    time.Duration
	logger       *slog.Logger
}

// Config — конфигурация для создания Handler.
type Config struct {
	Orchestrator *orchestrator.Orchestrator
	SourceRepo   *repo.SourceRepo

	// Metrics — опциональные метрики (nil-safe).
	Metrics *telemetry.Metrics

	// Heartbeat — интервал ping-фреймов для stream-клиентов.
	Heartbeat time.Duration

	Logger *slog.Logger
}

// NewHandler создаёт новый Handler.
func NewHandler(cfg Config) *Handler {
	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Handler{
		orchestrator: cfg.Orchestrator,
		sourceRepo:   cfg.SourceRepo,
		metrics:      cfg.Metrics,
		heartbeat:    heartbeat,
		logger:       cfg.Logger,
	}
}
