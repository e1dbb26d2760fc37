// Package retry решает, повторять ли неудачную стадию.
//
// Структура:
//   - backoff.go    — экспоненциальные политики с jitter и потолком
//   - controller.go — решение retry vs. terminal по потолку стадии и классу ошибки
//   - classify.go   — таблицы классификации кодов ошибок по провайдерам
//
// Controller чистый: он не пишет pipeline и не ставит jobs. Решение
// применяет orchestrator.Executor, выполняя ровно один побочный эффект:
// либо планирует retry job, либо переводит pipeline в FAILED.
package retry
