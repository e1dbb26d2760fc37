// Package telemetry обеспечивает наблюдаемость системы.
//
// Включает:
//   - logging.go — structured logging через slog
//   - metrics.go — Prometheus метрики оркестратора
//   - hooks.go   — события переходов стадий для alerting
//
// Все сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
