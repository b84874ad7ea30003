package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/supervisor"
)

// ListSources возвращает список источников.
// GET /api/v1/sources
func (h *Handler) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sourceRepo.List(r.Context())
	if HandleRepoError(w, h.logger, err, "") {
		return
	}

	result := make([]SourceResponse, len(sources))
	for i, s := range sources {
		result[i] = SourceFromDomain(s)
	}

	List(w, result, len(result))
}

// CreateSource создаёт новый источник.
// POST /api/v1/sources
func (h *Handler) CreateSource(w http.ResponseWriter, r *http.Request) {
	var req CreateSourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if req.Name == "" {
		BadRequest(w, "name is required")
		return
	}
	if err := supervisor.ValidateExtractor(req.TapType); err != nil {
		BadRequest(w, err.Error())
		return
	}
	if req.LoaderType != "" {
		if err := supervisor.ValidateLoader(req.LoaderType); err != nil {
			BadRequest(w, err.Error())
			return
		}
	}
	if len(req.Config) == 0 || !json.Valid(req.Config) {
		BadRequest(w, "config must be a valid JSON document")
		return
	}
	if len(req.LoaderConfig) > 0 && !json.Valid(req.LoaderConfig) {
		BadRequest(w, "loader_config must be a valid JSON document")
		return
	}

	src := &domain.Source{
		ID:           uuid.New(),
		Name:         req.Name,
		TapType:      req.TapType,
		Config:       req.Config,
		LoaderType:   req.LoaderType,
		LoaderConfig: req.LoaderConfig,
		CreatedAt:    time.Now(),
	}

	if err := h.sourceRepo.Create(r.Context(), src); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	Created(w, SourceFromDomain(*src))
}

// GetSource возвращает источник по ID.
// GET /api/v1/sources/{id}
func (h *Handler) GetSource(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid source id")
		return
	}

	src, err := h.sourceRepo.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "source not found") {
		return
	}

	Success(w, SourceFromDomain(*src))
}

// DeleteSource удаляет источник. История runs остаётся: записи
// денормализованы и переживают удаление.
// DELETE /api/v1/sources/{id}
func (h *Handler) DeleteSource(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "invalid source id")
		return
	}

	if err := h.sourceRepo.Delete(r.Context(), id); HandleRepoError(w, h.logger, err, "source not found") {
		return
	}

	NoContent(w)
}
