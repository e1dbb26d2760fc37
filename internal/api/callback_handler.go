package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/shaiso/atelier/internal/gateway"
)

// maxCallbackBody — предел размера тела callback.
const maxCallbackBody = 1 << 20

// ReceiveCallback принимает подписанный callback провайдера.
// POST /api/v1/callbacks
//
// Заголовки: X-Atelier-Source, X-Atelier-Signature (sha256=<hex HMAC тела>).
// Дубликат успеха отвечает 200 с result=duplicate, устаревший сигнал — 409.
func (h *Handler) ReceiveCallback(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil || h.callbacks == nil {
		Error(w, http.StatusServiceUnavailable, ErrCodeInternalError, "callbacks are not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBody+1))
	if err != nil {
		BadRequest(w, "cannot read request body")
		return
	}
	if len(body) > maxCallbackBody {
		BadRequest(w, "request body too large")
		return
	}

	source, err := h.signer.Verify(r.Header.Get(HeaderSource), r.Header.Get(HeaderSignature), body)
	if err != nil {
		h.logger.Warn("callback signature rejected",
			"source", r.Header.Get(HeaderSource),
			"error", err,
		)
		Unauthorized(w, err.Error())
		return
	}

	var req CallbackRequest
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	res, err := h.callbacks.Report(r.Context(), gateway.Callback{
		PipelineID:   req.PipelineID,
		Stage:        req.Stage,
		Outcome:      req.Outcome,
		Attempt:      req.Attempt,
		Payload:      req.Payload,
		ErrorCode:    req.ErrorCode,
		ErrorMessage: req.ErrorMessage,
		ErrorClass:   req.ErrorClass,
		Source:       source,
	})
	if HandleError(w, h.logger, err, "pipeline not found") {
		return
	}

	Success(w, CallbackResponse{Result: string(res)})
}
