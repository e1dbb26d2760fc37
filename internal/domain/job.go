package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DedupeKey возвращает ключ дедупликации единицы работы.
//
// Формат: "<pipeline_id>:<stage>:<attempt>".
func DedupeKey(pipelineID uuid.UUID, stage Stage, attempt int) string {
	return fmt.Sprintf("%s:%s:%d", pipelineID, stage, attempt)
}

// Job — единица внешней работы для воркера стадии.
type Job struct {
	ID            uuid.UUID `json:"job_id"`
	PipelineID    uuid.UUID `json:"pipeline_id"`
	Stage         Stage     `json:"stage"`
	AttemptNumber int       `json:"attempt_number"`
	DedupeKey     string    `json:"dedupe_key"`

	// Queue — routing key очереди воркера.
	Queue string `json:"queue,omitempty"`

	EnqueuedAt time.Time `json:"enqueued_at"`
}

// CallbackOutcome — исход, о котором сообщает внешний источник.
type CallbackOutcome string

const (
	CallbackSuccess CallbackOutcome = "SUCCESS"
	CallbackFailure CallbackOutcome = "FAILURE"
)

// JobResult — результат выполнения job, публикуемый воркером в jobs.completed.
type JobResult struct {
	JobID         uuid.UUID       `json:"job_id"`
	PipelineID    uuid.UUID       `json:"pipeline_id"`
	Stage         Stage           `json:"stage"`
	AttemptNumber int             `json:"attempt_number"`
	Outcome       CallbackOutcome `json:"outcome"`
	ErrorCode     string          `json:"error_code,omitempty"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Payload       map[string]any  `json:"payload,omitempty"`
	FinishedAt    time.Time       `json:"finished_at"`
}
