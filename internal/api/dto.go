package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/stages"
)

// Pipeline DTOs

// CreatePipelineRequest — запрос на запуск pipeline для заказа.
type CreatePipelineRequest struct {
	OrderID string `json:"order_id"`
}

// PauseRequest — запрос на паузу.
type PauseRequest struct {
	Reason string `json:"reason"`
}

// CancelRequest — запрос на отмену pipeline.
type CancelRequest struct {
	Reason string `json:"reason"`
}

// RestageRequest — запрос на перевод pipeline на стадию.
type RestageRequest struct {
	Stage  domain.Stage `json:"stage"`
	Reason string       `json:"reason"`
}

// PipelineResponse — ответ с pipeline.
type PipelineResponse struct {
	ID           uuid.UUID             `json:"id"`
	OrderID      string                `json:"order_id"`
	CurrentStage domain.Stage          `json:"current_stage"`
	Status       domain.PipelineStatus `json:"status"`
	Progress     int                   `json:"progress"`
	RetryCounts  map[domain.Stage]int  `json:"retry_counts,omitempty"`
	LastError    string                `json:"last_error,omitempty"`
	InFlight     *InFlightResponse     `json:"in_flight,omitempty"`
	RetryAt      *time.Time            `json:"retry_at,omitempty"`
	Epoch        int                   `json:"epoch"`
	PauseReason  string                `json:"pause_reason,omitempty"`
	Version      int64                 `json:"version"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
	CompletedAt  *time.Time            `json:"completed_at,omitempty"`

	// History заполняется только в детальном ответе.
	History []StageRecordResponse `json:"history,omitempty"`
}

// InFlightResponse — стадия, ожидающая результата.
type InFlightResponse struct {
	Stage     domain.Stage `json:"stage"`
	Attempt   int          `json:"attempt"`
	DedupeKey string       `json:"dedupe_key,omitempty"`
	Since     time.Time    `json:"since"`
	Deadline  time.Time    `json:"deadline"`
}

// StageRecordResponse — запись истории стадии.
type StageRecordResponse struct {
	Stage      domain.Stage        `json:"stage"`
	Attempt    int                 `json:"attempt"`
	Epoch      int                 `json:"epoch"`
	EnteredAt  time.Time           `json:"entered_at"`
	ExitedAt   time.Time           `json:"exited_at"`
	Outcome    domain.StageOutcome `json:"outcome"`
	Resolution domain.Resolution   `json:"resolution"`
	Error      string              `json:"error,omitempty"`
	Payload    map[string]any      `json:"payload,omitempty"`
}

// PipelineFromDomain конвертирует domain.Pipeline в PipelineResponse.
func PipelineFromDomain(p domain.Pipeline, registry *stages.Registry) PipelineResponse {
	resp := PipelineResponse{
		ID:           p.ID,
		OrderID:      p.OrderID,
		CurrentStage: p.CurrentStage,
		Status:       p.Status,
		Progress:     registry.Progress(&p),
		RetryCounts:  p.RetryCounts,
		LastError:    p.LastError,
		RetryAt:      p.RetryAt,
		Epoch:        p.Epoch,
		PauseReason:  p.PauseReason,
		Version:      p.Version,
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		CompletedAt:  p.CompletedAt,
	}

	if p.InFlight != nil {
		resp.InFlight = &InFlightResponse{
			Stage:     p.InFlight.Stage,
			Attempt:   p.InFlight.Attempt,
			DedupeKey: p.InFlight.DedupeKey,
			Since:     p.InFlight.Since,
			Deadline:  p.InFlight.Deadline,
		}
	}

	return resp
}

// PipelineDetailFromDomain добавляет историю стадий.
func PipelineDetailFromDomain(p domain.Pipeline, registry *stages.Registry) PipelineResponse {
	resp := PipelineFromDomain(p, registry)
	resp.History = make([]StageRecordResponse, len(p.StageHistory))
	for i, rec := range p.StageHistory {
		resp.History[i] = StageRecordResponse{
			Stage:      rec.Stage,
			Attempt:    rec.Attempt,
			Epoch:      rec.Epoch,
			EnteredAt:  rec.EnteredAt,
			ExitedAt:   rec.ExitedAt,
			Outcome:    rec.Outcome,
			Resolution: rec.Resolution,
			Error:      rec.Error,
			Payload:    rec.Payload,
		}
	}
	return resp
}

// TriggerResponse — ответ на асинхронный триггер.
type TriggerResponse struct {
	OrderID string `json:"order_id"`
	Queued  bool   `json:"queued"`
}

// Callback DTOs

// CallbackRequest — подписанный callback провайдера.
type CallbackRequest struct {
	PipelineID   uuid.UUID              `json:"pipeline_id"`
	Stage        domain.Stage           `json:"stage"`
	Outcome      domain.CallbackOutcome `json:"outcome"`
	Attempt      int                    `json:"attempt,omitempty"`
	Payload      map[string]any         `json:"payload,omitempty"`
	ErrorCode    string                 `json:"error_code,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	ErrorClass   domain.ErrorClass      `json:"error_class,omitempty"`
}

// CallbackResponse — результат обработки callback.
type CallbackResponse struct {
	Result string `json:"result"`
}
