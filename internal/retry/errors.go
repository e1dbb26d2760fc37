package retry

import "errors"

// Ошибки Retry Controller.
var (
	// ErrInvalidPolicy — политика backoff некорректна.
	ErrInvalidPolicy = errors.New("invalid backoff policy")

	// ErrUnknownPolicy — стадия ссылается на несуществующую политику.
	ErrUnknownPolicy = errors.New("unknown backoff policy")

	// ErrRetryCeilingReached — ретраи стадии исчерпаны.
	ErrRetryCeilingReached = errors.New("retry ceiling reached")

	// ErrNonRetryable — ошибка классифицирована как терминальная.
	ErrNonRetryable = errors.New("non-retryable failure")
)
