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

	// Sources
	mux.Handle("GET /api/v1/sources", chain(http.HandlerFunc(h.ListSources)))
	mux.Handle("POST /api/v1/sources", chain(http.HandlerFunc(h.CreateSource)))
	mux.Handle("GET /api/v1/sources/{id}", chain(http.HandlerFunc(h.GetSource)))
	mux.Handle("DELETE /api/v1/sources/{id}", chain(http.HandlerFunc(h.DeleteSource)))

	// Runs
	mux.Handle("GET /api/v1/runs", chain(http.HandlerFunc(h.ListRuns)))
	mux.Handle("POST /api/v1/sources/{id}/sync", chain(http.HandlerFunc(h.StartSync)))
	mux.Handle("POST /api/v1/sources/{id}/discover", chain(http.HandlerFunc(h.Discover)))
	mux.Handle("GET /api/v1/runs/{id}", chain(http.HandlerFunc(h.GetRun)))
	mux.Handle("POST /api/v1/runs/{id}/stop", chain(http.HandlerFunc(h.StopRun)))

	// Stream — websocket, логирующий middleware мешает hijack'у
	mux.Handle("GET /api/v1/runs/{id}/stream", Recovery(h.logger)(http.HandlerFunc(h.StreamRun)))

	// Health
	mux.Handle("GET /healthz", http.HandlerFunc(h.Healthz))
}
