// Package config загружает конфигурацию сервиса из переменных окружения.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config — конфигурация conveyor-api.
type Config struct {
	// Addr — адрес HTTP API.
	Addr string `env:"CONVEYOR_ADDR" envDefault:":8080"`

	// DBPath — путь к файлу встроенной БД.
	DBPath string `env:"CONVEYOR_DB_PATH" envDefault:"conveyor.db"`

	// WorkdirRoot — корень приватной директории для файлов run'ов.
	WorkdirRoot string `env:"CONVEYOR_WORKDIR" envDefault:"/var/lib/conveyor/runs"`

	// RunTimeout — wall-clock лимит одного run'а.
	RunTimeout time.Duration `env:"CONVEYOR_RUN_TIMEOUT" envDefault:"15m"`

	// HeartbeatInterval — интервал ping-фреймов для stream-клиентов.
	HeartbeatInterval time.Duration `env:"CONVEYOR_HEARTBEAT_INTERVAL" envDefault:"30s"`

	// AMQPURL — адрес RabbitMQ для lifecycle-событий.
	// Пустая строка отключает публикацию.
	AMQPURL string `env:"CONVEYOR_AMQP_URL" envDefault:""`

	// ShutdownTimeout — лимит на graceful shutdown HTTP-сервера.
	ShutdownTimeout time.Duration `env:"CONVEYOR_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load читает конфигурацию из окружения.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
