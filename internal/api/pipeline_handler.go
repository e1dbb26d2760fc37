package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shaiso/atelier/internal/domain"
	"github.com/shaiso/atelier/internal/repo"
)

// CreatePipeline запускает pipeline для заказа.
// POST /api/v1/pipelines
//
// 201 — создан новый pipeline, 200 — у заказа уже есть живой.
func (h *Handler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	var req CreatePipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		BadRequest(w, "order_id is required")
		return
	}

	p, created, err := h.service.CreatePipeline(r.Context(), req.OrderID)
	if HandleError(w, h.logger, err, "") {
		return
	}

	resp := PipelineFromDomain(*p, h.registry)
	if created {
		Created(w, resp)
		return
	}
	Success(w, resp)
}

// TriggerOrder ставит триггер заказа в очередь.
// POST /api/v1/orders/{orderId}/trigger
func (h *Handler) TriggerOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimSpace(r.PathValue("orderId"))
	if orderID == "" {
		BadRequest(w, "order id is required")
		return
	}
	if h.publisher == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "async trigger is not configured")
		return
	}

	if err := h.publisher.PublishTrigger(r.Context(), orderID); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	h.logger.Info("order trigger queued", "order_id", orderID)
	Accepted(w, TriggerResponse{OrderID: orderID, Queued: true})
}

// ListPipelines возвращает список pipelines с фильтрацией.
// GET /api/v1/pipelines?status=...&stage=...&limit=...&offset=...
func (h *Handler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := repo.PipelineFilter{
		Limit:  queryInt(query.Get("limit"), 50),
		Offset: queryInt(query.Get("offset"), 0),
	}

	if s := query.Get("status"); s != "" {
		status, ok := domain.ParsePipelineStatus(strings.ToUpper(s))
		if !ok {
			BadRequest(w, "invalid status")
			return
		}
		filter.Status = status
	}

	if s := query.Get("stage"); s != "" {
		stage := domain.Stage(strings.ToUpper(s))
		if !h.registry.Has(stage) {
			BadRequest(w, "invalid stage")
			return
		}
		filter.Stage = stage
	}

	pipelines, err := h.pipelines.List(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]PipelineResponse, len(pipelines))
	for i, p := range pipelines {
		result[i] = PipelineFromDomain(p, h.registry)
	}

	List(w, result, len(result))
}

// GetPipeline возвращает pipeline с историей стадий.
// GET /api/v1/pipelines/{id}
func (h *Handler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	p, err := h.pipelines.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, PipelineDetailFromDomain(*p, h.registry))
}

// GetOrderPipeline возвращает живой pipeline заказа.
// GET /api/v1/orders/{orderId}/pipeline
func (h *Handler) GetOrderPipeline(w http.ResponseWriter, r *http.Request) {
	orderID := r.PathValue("orderId")

	p, err := h.pipelines.GetLiveByOrderID(r.Context(), orderID)
	if HandleRepoError(w, h.logger, err, "no pipeline for order") {
		return
	}

	Success(w, PipelineDetailFromDomain(*p, h.registry))
}

// PausePipeline ставит pipeline на паузу.
// POST /api/v1/pipelines/{id}/pause
func (h *Handler) PausePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	// Тело необязательно
	var req PauseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		BadRequest(w, "invalid request body")
		return
	}

	p, err := h.service.Pause(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	h.logger.Info("pipeline paused", "pipeline_id", id, "reason", req.Reason)
	Success(w, PipelineFromDomain(*p, h.registry))
}

// ResumePipeline снимает pipeline с паузы.
// POST /api/v1/pipelines/{id}/resume
func (h *Handler) ResumePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	p, err := h.service.Resume(r.Context(), id)
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	h.logger.Info("pipeline resumed", "pipeline_id", id)
	Success(w, PipelineFromDomain(*p, h.registry))
}

// RestagePipeline переводит pipeline на указанную стадию.
// POST /api/v1/pipelines/{id}/restage
func (h *Handler) RestagePipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req RestageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	req.Stage = domain.Stage(strings.ToUpper(string(req.Stage)))

	p, err := h.service.Restage(r.Context(), id, req.Stage, req.Reason)
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	h.logger.Info("pipeline restaged", "pipeline_id", id, "stage", req.Stage, "reason", req.Reason)
	Success(w, PipelineDetailFromDomain(*p, h.registry))
}

// CancelPipeline отменяет pipeline. Причина обязательна.
// POST /api/v1/pipelines/{id}/cancel
func (h *Handler) CancelPipeline(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid pipeline id")
		return
	}

	var req CancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		BadRequest(w, "reason is required")
		return
	}

	p, err := h.service.Cancel(r.Context(), id, req.Reason)
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	h.logger.Info("pipeline cancelled", "pipeline_id", id, "reason", req.Reason)
	Success(w, PipelineDetailFromDomain(*p, h.registry))
}

// queryInt разбирает неотрицательное целое из query, иначе def.
func queryInt(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
