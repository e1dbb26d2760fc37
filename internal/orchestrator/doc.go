// Package orchestrator продвигает pipelines заказов по стадиям производства.
//
// Состав:
//   - executor.go     — Executor, единственный писатель записей pipeline
//   - orchestrator.go — сервис: consumers очередей trigger/completed/retry
//   - handlers.go     — обработчики сообщений
//   - sweeper.go      — периодический sweep таймаутов и потерянных ретраев
//
// Взаимное исключение на pipeline обеспечивает compare-and-swap по version
// в хранилище плюс in-flight маркер: проигравший получает
// *ConcurrentTransitionError и ничего не меняет. Сообщение очереди,
// проигравшее гонку, возвращается в очередь с задержкой.
package orchestrator
