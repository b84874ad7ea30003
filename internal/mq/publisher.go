package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Publisher публикует lifecycle-события run'ов в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// RunEvent — событие run'а, уходящее внешним потребителям.
// Лог и сэмплы не включаются: событие — сигнал, не транспорт данных.
type RunEvent struct {
	// ID — уникальный идентификатор события.
	ID string `json:"id"`

	// Event — имя события: started, completed, failed, stopped.
	Event string `json:"event"`

	// RunID — идентификатор run'а.
	RunID uuid.UUID `json:"run_id"`

	// SourceID — идентификатор источника.
	SourceID uuid.UUID `json:"source_id"`

	// SourceName — имя источника на момент запуска.
	SourceName string `json:"source_name"`

	// Mode — discover или sync.
	Mode string `json:"mode"`

	// Status — статус run'а на момент события.
	Status string `json:"status"`

	// RecordsSynced — итоговый счётчик записей.
	RecordsSynced int64 `json:"records_synced"`

	// StreamsDiscovered — итоговый счётчик stream'ов.
	StreamsDiscovered int `json:"streams_discovered"`

	// Error — текст ошибки для failed.
	Error string `json:"error,omitempty"`

	// Timestamp — время события.
	Timestamp time.Time `json:"timestamp"`
}

// PublishRunEvent публикует lifecycle-событие run'а в обменник событий.
func (p *Publisher) PublishRunEvent(ctx context.Context, event string, run *domain.Run) error {
	msg := RunEvent{
		ID:                uuid.New().String(),
		Event:             event,
		RunID:             run.ID,
		SourceID:          run.SourceID,
		SourceName:        run.SourceName,
		Mode:              string(run.Mode),
		Status:            string(run.Status),
		RecordsSynced:     run.RecordsSynced,
		StreamsDiscovered: run.StreamsDiscovered,
		Error:             run.Error,
		Timestamp:         time.Now(),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal run event: %w", err)
	}

	routingKey := RoutingKey("run." + event)

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(ExchangeEvents),
			string(routingKey),
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // событие переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", ExchangeEvents, routingKey, err)
		}

		p.logger.Debug("published run event",
			"routing_key", routingKey,
			"run_id", run.ID,
			"event", event,
		)

		return nil
	})
}
