// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - pipeline.trigger — заказ ожидает создания pipeline
//   - stage.job        — job стадии для worker'а
//   - job.completed    — результат выполнения job
//   - stage.retry      — отложенный повтор стадии
//   - stage.event      — событие перехода стадии
//
// Exchanges:
//   - atelier.pipelines — запросы на создание pipelines
//   - atelier.jobs      — jobs стадий, результаты, ретраи
//   - atelier.delay     — отложенные ретраи (TTL + dead-letter)
//   - atelier.events    — события переходов (topic)
//   - atelier.dlq       — dead letter queue
package mq
