package domain

import (
	"time"

	"github.com/google/uuid"
)

// Transition — тип перехода для событий наблюдаемости.
type Transition string

const (
	TransitionEntered         Transition = "ENTERED"
	TransitionExited          Transition = "EXITED"
	TransitionDispatched      Transition = "DISPATCHED"
	TransitionRetryScheduled  Transition = "RETRY_SCHEDULED"
	TransitionTimedOut        Transition = "TIMED_OUT"
	TransitionTerminalFailure Transition = "TERMINAL_FAILURE"
	TransitionCompleted       Transition = "COMPLETED"
	TransitionPaused          Transition = "PAUSED"
	TransitionResumed         Transition = "RESUMED"
	TransitionRestaged        Transition = "RESTAGED"
	TransitionCancelled       Transition = "CANCELLED"
)

// StageEvent — структурированное событие перехода стадии.
//
// Потребитель — внешний alerting. Бизнес-логики не несёт.
type StageEvent struct {
	PipelineID uuid.UUID  `json:"pipeline_id"`
	OrderID    string     `json:"order_id,omitempty"`
	Stage      Stage      `json:"stage"`
	Transition Transition `json:"transition"`
	Attempt    int        `json:"attempt,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
	Error      string     `json:"error,omitempty"`
}
