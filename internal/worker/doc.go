// Package worker выполняет jobs стадий pipeline.
//
// # Обзор
//
// Worker — stateless компонент системы Atelier. Он забирает jobs из очередей
// стадий (jobs.rendering, jobs.production, ...), вызывает провайдера стадии
// и публикует результат в очередь jobs.completed. Решение о повторе
// принимает оркестратор, воркер только сообщает об ошибке.
//
// Workers масштабируются горизонтально — несколько экземпляров
// потребляют из одной очереди.
//
// # Executors
//
//	registry := worker.NewRegistry()
//	registry.Register(domain.StageRendering, &worker.ProviderExecutor{URL: renderURL})
//	registry.Register(domain.StageFulfillment, &worker.SimulatedExecutor{Delay: time.Second})
//
// ProviderExecutor отправляет job провайдеру с заголовком Idempotency-Key,
// равным dedupe key. Ответ >= 400 и сетевые ошибки становятся логическим
// FAILURE с кодом ошибки, который классифицирует оркестратор.
//
// # Подтверждение сообщений
//
//   - результат опубликован → ack
//   - нет executor'а для стадии, битый payload → reject (DLQ)
//   - ошибка публикации, остановка воркера → requeue
package worker
