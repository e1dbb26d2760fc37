package dispatch

import "errors"

var (
	// ErrDuplicateJob — job с таким dedupe key уже поставлен.
	ErrDuplicateJob = errors.New("duplicate job")

	// ErrEnqueueFailed — не удалось опубликовать job в очередь.
	ErrEnqueueFailed = errors.New("enqueue failed")

	// ErrLedgerUnavailable — хранилище dedupe ключей недоступно.
	ErrLedgerUnavailable = errors.New("dedupe ledger unavailable")

	// ErrNotDispatchable — стадия не требует внешней работы.
	ErrNotDispatchable = errors.New("stage is not dispatchable")
)
