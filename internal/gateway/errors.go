package gateway

import "errors"

// Ошибки gateway.
var (
	// ErrUnauthorized — источник не имеет права сообщать о стадии.
	ErrUnauthorized = errors.New("callback source not authorized")

	// ErrStageNeverEntered — pipeline никогда не был на стадии.
	ErrStageNeverEntered = errors.New("stage never entered")

	// ErrInvalidCallback — callback не прошёл базовую проверку.
	ErrInvalidCallback = errors.New("invalid callback")
)
