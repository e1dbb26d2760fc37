// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (чтение pipelines, executor, gateway, publisher)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery, admin)
//   - auth.go             — bearer-токен администратора и HMAC-подписи callbacks
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - pipeline_handler.go — обработчики для /pipelines и /orders
//   - callback_handler.go — приём callbacks провайдеров
package api
