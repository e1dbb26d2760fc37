package worker

import "errors"

// Ошибки воркера.
var (
	// ErrNoExecutor — нет executor'а для стадии.
	ErrNoExecutor = errors.New("no executor for stage")

	// ErrWorkerStopped — воркер остановлен.
	ErrWorkerStopped = errors.New("worker stopped")

	// ErrProviderRequest — запрос к провайдеру не выполнен.
	ErrProviderRequest = errors.New("provider request failed")
)
