package api

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/repo"
)

// ListRuns возвращает список runs с фильтрацией.
// GET /api/v1/runs?source_id=...&status=...&limit=...&offset=...
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	filter := repo.RunFilter{Limit: 50}

	if sourceIDStr := r.URL.Query().Get("source_id"); sourceIDStr != "" {
		sourceID, err := uuid.Parse(sourceIDStr)
		if err != nil {
			BadRequest(w, "invalid source_id")
			return
		}
		filter.SourceID = &sourceID
	}

	if status := r.URL.Query().Get("status"); status != "" {
		filter.Status = domain.RunStatus(status)
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 {
			BadRequest(w, "invalid limit")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil || offset < 0 {
			BadRequest(w, "invalid offset")
			return
		}
		filter.Offset = offset
	}

	runs, err := h.orchestrator.ListRuns(r.Context(), filter)
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]RunResponse, len(runs))
	for i, run := range runs {
		result[i] = RunFromDomain(run)
	}

	List(w, result, len(result))
}

// StartSync запускает sync-пайплайн источника. Возвращает 202: run
// принят, прогресс — через stream.
// POST /api/v1/sources/{id}/sync
func (h *Handler) StartSync(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid source id")
		return
	}

	run, token, err := h.orchestrator.StartSync(r.Context(), sourceID)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Accepted(w, StartedRunResponse{
		Run:         RunFromDomain(*run),
		StreamToken: token,
	})
}

// Discover выполняет discovery схем источника. Блокирует до завершения
// и возвращает run с каталогом.
// POST /api/v1/sources/{id}/discover
func (h *Handler) Discover(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid source id")
		return
	}

	run, err := h.orchestrator.Discover(r.Context(), sourceID)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(*run))
}

// GetRun возвращает run по ID. Для активного run'а — живой снапшот.
// GET /api/v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	run, err := h.orchestrator.GetRun(r.Context(), id)
	if HandleRunError(w, h.logger, err) {
		return
	}

	Success(w, RunFromDomain(*run))
}

// StopRun останавливает run.
// POST /api/v1/runs/{id}/stop
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid run id")
		return
	}

	if err := h.orchestrator.Stop(r.Context(), id); HandleRunError(w, h.logger, err) {
		return
	}

	Accepted(w, map[string]string{"status": "stopping"})
}

// Healthz — проверка живости сервиса.
// GET /healthz
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	Success(w, map[string]any{
		"status":      "ok",
		"active_runs": h.orchestrator.ActiveRunsCount(),
	})
}
