package domain

// PipelineStatus — статус pipeline.
//
// Жизненный цикл:
//
//	ACTIVE → COMPLETED
//	       ↘ FAILED (ретраи исчерпаны или терминальная ошибка)
//	ACTIVE ⇄ PAUSED (ручная остановка администратором)
//	FAILED → ACTIVE (только через административный restage)
type PipelineStatus string

const (
	// PipelineStatusActive — pipeline движется по стадиям.
	PipelineStatusActive PipelineStatus = "ACTIVE"

	// PipelineStatusCompleted — все стадии пройдены.
	PipelineStatusCompleted PipelineStatus = "COMPLETED"

	// PipelineStatusFailed — стадия исчерпала ретраи или получила терминальную ошибку.
	PipelineStatusFailed PipelineStatus = "FAILED"

	// PipelineStatusPaused — ручная остановка, advance ничего не делает.
	PipelineStatusPaused PipelineStatus = "PAUSED"
)

// IsTerminal возвращает true, если статус финальный.
func (s PipelineStatus) IsTerminal() bool {
	switch s {
	case PipelineStatusCompleted, PipelineStatusFailed:
		return true
	default:
		return false
	}
}

// ParsePipelineStatus парсит строку в PipelineStatus.
func ParsePipelineStatus(s string) (PipelineStatus, bool) {
	switch PipelineStatus(s) {
	case PipelineStatusActive, PipelineStatusCompleted, PipelineStatusFailed, PipelineStatusPaused:
		return PipelineStatus(s), true
	default:
		return "", false
	}
}

// StageOutcome — исход одной попытки стадии в истории.
type StageOutcome string

const (
	// OutcomeSuccess — стадия успешно завершена.
	OutcomeSuccess StageOutcome = "SUCCESS"

	// OutcomeFailedRetryable — ошибка, запланирован retry.
	OutcomeFailedRetryable StageOutcome = "FAILED_RETRYABLE"

	// OutcomeFailedTerminal — ошибка, pipeline переведён в FAILED.
	OutcomeFailedTerminal StageOutcome = "FAILED_TERMINAL"

	// OutcomeTimedOut — стадия превысила max dwell и снята sweep'ом.
	OutcomeTimedOut StageOutcome = "TIMED_OUT"

	// OutcomeRestaged — попытка закрыта административным restage.
	OutcomeRestaged StageOutcome = "RESTAGED"

	// OutcomeCancelled — попытка закрыта отменой pipeline.
	OutcomeCancelled StageOutcome = "CANCELLED"
)

// IsFailure возвращает true для неуспешных исходов.
func (o StageOutcome) IsFailure() bool {
	switch o {
	case OutcomeFailedRetryable, OutcomeFailedTerminal, OutcomeTimedOut:
		return true
	default:
		return false
	}
}

// Resolution — каким путём попытка стадии была разрешена.
type Resolution string

const (
	ResolutionAuto     Resolution = "AUTO"     // auto-complete стадия
	ResolutionCallback Resolution = "CALLBACK" // callback воркера или провайдера
	ResolutionSweep    Resolution = "SWEEP"    // таймаут от периодического sweep
	ResolutionAdmin    Resolution = "ADMIN"    // ручное действие
	ResolutionDispatch Resolution = "DISPATCH" // job не удалось поставить в очередь
)
