package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// ExchangeEvents — topic-обменник lifecycle-событий run'ов.
// Внешние потребители сами заводят очереди и биндятся на нужные ключи.
const ExchangeEvents Exchange = "conveyor.events"

// Routing keys событий run'ов.
const (
	RoutingKeyRunStarted   RoutingKey = "run.started"
	RoutingKeyRunCompleted RoutingKey = "run.completed"
	RoutingKeyRunFailed    RoutingKey = "run.failed"
	RoutingKeyRunStopped   RoutingKey = "run.stopped"
)

// SetupTopology объявляет обменник событий. Идемпотентно.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.ExchangeDeclare(
			string(ExchangeEvents), // name
			"topic",                // type
			true,                   // durable
			false,                  // auto-deleted
			false,                  // internal
			false,                  // no-wait
			nil,                    // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ExchangeEvents, err)
		}
		return nil
	})
}
