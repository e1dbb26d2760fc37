package stages

import "errors"

// Ошибки реестра стадий.
var (
	// ErrUnknownStage — стадии нет в реестре.
	ErrUnknownStage = errors.New("unknown stage")

	// ErrNoNextStage — у стадии нет следующей (терминальная).
	ErrNoNextStage = errors.New("no next stage")

	// ErrInvalidConfig — реестр или его переопределения некорректны.
	ErrInvalidConfig = errors.New("invalid stage configuration")
)
