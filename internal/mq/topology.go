package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangePipelines Exchange = "atelier.pipelines"
	ExchangeJobs      Exchange = "atelier.jobs"
	ExchangeDelay     Exchange = "atelier.delay"
	ExchangeEvents    Exchange = "atelier.events"
	ExchangeDLQ       Exchange = "atelier.dlq"
)

// Queues — имена очередей.
const (
	QueuePipelinesTrigger Queue = "pipelines.trigger"
	QueueJobsCompleted    Queue = "jobs.completed"
	QueueJobsRetry        Queue = "jobs.retry"
	QueueJobsRetryDelay   Queue = "jobs.retry.delay"
	QueueDLQJobs          Queue = "dlq.jobs"
)

// Routing keys.
const (
	RoutingKeyTrigger   RoutingKey = "trigger"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyRetry     RoutingKey = "retry"
	RoutingKeyDLQJobs   RoutingKey = "jobs"
)

// StageQueue возвращает очередь jobs стадии по имени очереди из реестра
// ("rendering" → "jobs.rendering").
func StageQueue(name string) Queue {
	return Queue("jobs." + name)
}

// StageRoutingKey возвращает routing key jobs стадии.
func StageRoutingKey(name string) RoutingKey {
	return RoutingKey(name)
}

// EventRoutingKey возвращает routing key события перехода
// ("stage.entered", "stage.terminal_failure").
func EventRoutingKey(transition string) RoutingKey {
	return RoutingKey("stage." + strings.ToLower(transition))
}

// SetupTopology объявляет exchanges, очереди и bindings.
// stageQueues — имена очередей стадий из реестра (Definition.Queue).
// Операция идемпотентна, её вызывает каждый сервис при старте.
func SetupTopology(ctx context.Context, conn *Connection, stageQueues []string) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		// 1. Создаём exchanges
		if err := declareExchanges(ch); err != nil {
			return err
		}

		// 2. Создаём queues
		if err := declareQueues(ch, stageQueues); err != nil {
			return err
		}

		// 3. Привязываем queues к exchanges
		return bindQueues(ch, stageQueues)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangePipelines, amqp.ExchangeDirect},
		{ExchangeJobs, amqp.ExchangeDirect},
		{ExchangeDelay, amqp.ExchangeDirect},
		{ExchangeEvents, amqp.ExchangeTopic},
		{ExchangeDLQ, amqp.ExchangeDirect},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

// queueDecls возвращает очереди топологии.
func queueDecls(stageQueues []string) []queueDecl {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQJobs),
	}

	queues := []queueDecl{
		{QueuePipelinesTrigger, dlqArgs},
		{QueueJobsCompleted, dlqArgs},
		{QueueJobsRetry, dlqArgs},

		// Отложенные ретраи: сообщение лежит до истечения per-message TTL,
		// затем dead-letter'ится в atelier.jobs с ключом retry.
		{QueueJobsRetryDelay, amqp.Table{
			"x-dead-letter-exchange":    string(ExchangeJobs),
			"x-dead-letter-routing-key": string(RoutingKeyRetry),
		}},

		{QueueDLQJobs, nil},
	}

	for _, name := range stageQueues {
		queues = append(queues, queueDecl{StageQueue(name), dlqArgs})
	}
	return queues
}

// declareQueues создаёт очереди.
func declareQueues(ch *amqp.Channel, stageQueues []string) error {
	for _, q := range queueDecls(stageQueues) {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

type binding struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

// bindings возвращает привязки очередей.
func bindings(stageQueues []string) []binding {
	bs := []binding{
		{QueuePipelinesTrigger, RoutingKeyTrigger, ExchangePipelines},
		{QueueJobsCompleted, RoutingKeyCompleted, ExchangeJobs},
		{QueueJobsRetry, RoutingKeyRetry, ExchangeJobs},
		{QueueJobsRetryDelay, RoutingKeyRetry, ExchangeDelay},
		{QueueDLQJobs, RoutingKeyDLQJobs, ExchangeDLQ},
	}
	for _, name := range stageQueues {
		bs = append(bs, binding{StageQueue(name), StageRoutingKey(name), ExchangeJobs})
	}
	return bs
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel, stageQueues []string) error {
	for _, b := range bindings(stageQueues) {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo(stageQueues []string) string {
	var b strings.Builder
	b.WriteString("Atelier RabbitMQ Topology:\n")
	b.WriteString("  atelier.pipelines (direct)\n")
	b.WriteString("  └── pipelines.trigger [routing: trigger]  consumer: orchestrator\n")
	b.WriteString("  atelier.jobs (direct)\n")
	for _, name := range stageQueues {
		fmt.Fprintf(&b, "  ├── %s [routing: %s]  consumer: worker, DLQ: dlq.jobs\n", StageQueue(name), name)
	}
	b.WriteString("  ├── jobs.completed [routing: completed]  consumer: orchestrator\n")
	b.WriteString("  └── jobs.retry [routing: retry]  consumer: orchestrator\n")
	b.WriteString("  atelier.delay (direct)\n")
	b.WriteString("  └── jobs.retry.delay [routing: retry]  TTL → atelier.jobs/retry\n")
	b.WriteString("  atelier.events (topic)\n")
	b.WriteString("  └── stage.* (external subscribers)\n")
	b.WriteString("  atelier.dlq (direct)\n")
	b.WriteString("  └── dlq.jobs [routing: jobs]  manual processing\n")
	return b.String()
}
