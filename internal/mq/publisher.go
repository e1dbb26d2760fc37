package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/atelier/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypePipelineTrigger MessageType = "pipeline.trigger"
	MessageTypeStageJob        MessageType = "stage.job"
	MessageTypeJobCompleted    MessageType = "job.completed"
	MessageTypeStageRetry      MessageType = "stage.retry"
	MessageTypeStageEvent      MessageType = "stage.event"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		conn:   conn,
		logger: logger,
		now:    time.Now,
	}
}

// Message — конверт сообщения.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TriggerPayload — запрос на создание pipeline для заказа.
type TriggerPayload struct {
	OrderID string `json:"order_id"`
}

// RetryPayload — отложенный повтор стадии.
type RetryPayload struct {
	PipelineID uuid.UUID    `json:"pipeline_id"`
	Stage      domain.Stage `json:"stage"`
	Attempt    int          `json:"attempt"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	return p.publish(ctx, exchange, routingKey, msg, "")
}

// publish публикует сообщение; expiration — per-message TTL в миллисекундах.
func (p *Publisher) publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message, expiration string) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Type:         string(msg.Type),
				Timestamp:    msg.Timestamp,
				Expiration:   expiration,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTrigger публикует запрос на создание pipeline.
// Потребитель: Orchestrator.
func (p *Publisher) PublishTrigger(ctx context.Context, orderID string) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypePipelineTrigger,
		Payload:   TriggerPayload{OrderID: orderID},
		Timestamp: p.now(),
	}

	return p.Publish(ctx, ExchangePipelines, RoutingKeyTrigger, msg)
}

// PublishJob публикует job стадии в очередь job.Queue.
// ID сообщения — dedupe key, чтобы потребители могли отсеять повторы.
// Потребитель: Worker.
func (p *Publisher) PublishJob(ctx context.Context, job domain.Job) error {
	if job.Queue == "" {
		return fmt.Errorf("%w: job %s has no queue", ErrInvalidMessage, job.DedupeKey)
	}

	msg := &Message{
		ID:        job.DedupeKey,
		Type:      MessageTypeStageJob,
		Payload:   job,
		Timestamp: job.EnqueuedAt,
	}

	return p.Publish(ctx, ExchangeJobs, StageRoutingKey(job.Queue), msg)
}

// PublishRetry публикует отложенный повтор стадии.
// Сообщение ждёт delay в jobs.retry.delay и затем попадает в jobs.retry.
// Потребитель: Orchestrator.
func (p *Publisher) PublishRetry(ctx context.Context, payload RetryPayload, delay time.Duration) error {
	msg := &Message{
		ID:        "retry:" + domain.DedupeKey(payload.PipelineID, payload.Stage, payload.Attempt),
		Type:      MessageTypeStageRetry,
		Payload:   payload,
		Timestamp: p.now(),
	}

	return p.publish(ctx, ExchangeDelay, RoutingKeyRetry, msg, expirationMillis(delay))
}

// PublishJobResult публикует результат выполнения job.
// Потребитель: Orchestrator.
func (p *Publisher) PublishJobResult(ctx context.Context, result domain.JobResult) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeJobCompleted,
		Payload:   result,
		Timestamp: p.now(),
	}

	return p.Publish(ctx, ExchangeJobs, RoutingKeyCompleted, msg)
}

// PublishStageEvent публикует событие перехода стадии в atelier.events.
// Потребители: внешние подписчики (alerting, аналитика).
func (p *Publisher) PublishStageEvent(ctx context.Context, ev domain.StageEvent) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeStageEvent,
		Payload:   ev,
		Timestamp: ev.Timestamp,
	}

	return p.Publish(ctx, ExchangeEvents, EventRoutingKey(string(ev.Transition)), msg)
}

// expirationMillis форматирует TTL для AMQP (строка в миллисекундах, минимум 1).
func expirationMillis(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return strconv.FormatInt(ms, 10)
}
