package orchestrator

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
)

// Ошибки оркестратора.
var (
	// ErrInvalidTransition — операция недопустима в текущем статусе pipeline.
	ErrInvalidTransition = errors.New("invalid pipeline transition")

	// ErrAutoCompleteChain — цепочка auto-complete стадий длиннее реестра.
	ErrAutoCompleteChain = errors.New("auto-complete chain exceeded stage count")

	// ErrEmptyOrderID — заказ без идентификатора.
	ErrEmptyOrderID = errors.New("order id is required")

	// ErrStageInFlight — Advance застал уже отправленную попытку.
	ErrStageInFlight = errors.New("stage already in flight")

	// ErrRejected — сообщение отклонено без повтора (уходит в DLQ).
	ErrRejected = errors.New("result rejected")

	// ErrOrchestratorStopped — оркестратор остановлен.
	ErrOrchestratorStopped = errors.New("orchestrator stopped")
)

// StaleStageError — результат относится не к текущей in-flight попытке.
type StaleStageError struct {
	PipelineID uuid.UUID
	Stage      domain.Stage
	Attempt    int

	// Current — стадия и попытка, которые pipeline ждёт сейчас (пусто, если ничего).
	Current        domain.Stage
	CurrentAttempt int

	Reason string
}

func (e *StaleStageError) Error() string {
	msg := fmt.Sprintf("stale result for pipeline %s stage %s", e.PipelineID, e.Stage)
	if e.Attempt > 0 {
		msg += fmt.Sprintf(" attempt %d", e.Attempt)
	}
	if e.Current != "" {
		msg += fmt.Sprintf(" (in flight: %s attempt %d)", e.Current, e.CurrentAttempt)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// ConcurrentTransitionError — другой переход pipeline выиграл гонку.
type ConcurrentTransitionError struct {
	PipelineID uuid.UUID
	Op         string
	Err        error
}

func (e *ConcurrentTransitionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("concurrent transition on pipeline %s during %s: %v", e.PipelineID, e.Op, e.Err)
	}
	return fmt.Sprintf("concurrent transition on pipeline %s during %s", e.PipelineID, e.Op)
}

func (e *ConcurrentTransitionError) Unwrap() error {
	return e.Err
}

// IsStale проверяет, что err — *StaleStageError.
func IsStale(err error) bool {
	var target *StaleStageError
	return errors.As(err, &target)
}

// IsConcurrent проверяет, что err — *ConcurrentTransitionError.
func IsConcurrent(err error) bool {
	var target *ConcurrentTransitionError
	return errors.As(err, &target)
}
