package api

import (
	"net/http"
)

// RegisterRoutes регистрирует все маршруты API.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Middleware chain
	chain := Chain(
		Recovery(h.logger),
		Logging(h.logger),
	)
	admin := Chain(
		Recovery(h.logger),
		Logging(h.logger),
		RequireAdmin(h.admin),
	)

	// Pipelines
	mux.Handle("POST /api/v1/pipelines", chain(http.HandlerFunc(h.CreatePipeline)))
	mux.Handle("GET /api/v1/pipelines", chain(http.HandlerFunc(h.ListPipelines)))
	mux.Handle("GET /api/v1/pipelines/{id}", chain(http.HandlerFunc(h.GetPipeline)))

	// Orders
	mux.Handle("GET /api/v1/orders/{orderId}/pipeline", chain(http.HandlerFunc(h.GetOrderPipeline)))
	mux.Handle("POST /api/v1/orders/{orderId}/trigger", chain(http.HandlerFunc(h.TriggerOrder)))

	// Admin
	mux.Handle("POST /api/v1/pipelines/{id}/pause", admin(http.HandlerFunc(h.PausePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/resume", admin(http.HandlerFunc(h.ResumePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/restage", admin(http.HandlerFunc(h.RestagePipeline)))
	mux.Handle("POST /api/v1/pipelines/{id}/cancel", admin(http.HandlerFunc(h.CancelPipeline)))

	// Callbacks
	mux.Handle("POST /api/v1/callbacks", chain(http.HandlerFunc(h.ReceiveCallback)))
}
