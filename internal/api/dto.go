package api

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// Source DTOs

// CreateSourceRequest — запрос на создание источника.
type CreateSourceRequest struct {
	Name         string          `json:"name"`
	TapType      string          `json:"tap_type"`
	Config       json.RawMessage `json:"config"`
	LoaderType   string          `json:"loader_type,omitempty"`
	LoaderConfig json.RawMessage `json:"loader_config,omitempty"`
}

// SourceResponse — ответ с источником. Config не отдаётся наружу:
// он содержит credentials.
type SourceResponse struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	TapType    string    `json:"tap_type"`
	LoaderType string    `json:"loader_type,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourceFromDomain конвертирует domain.Source в SourceResponse.
func SourceFromDomain(s domain.Source) SourceResponse {
	return SourceResponse{
		ID:         s.ID,
		Name:       s.Name,
		TapType:    s.TapType,
		LoaderType: s.LoaderType,
		CreatedAt:  s.CreatedAt,
	}
}

// Run DTOs

// RunResponse — ответ с run.
type RunResponse struct {
	ID                uuid.UUID                    `json:"id"`
	SourceID          uuid.UUID                    `json:"source_id"`
	SourceName        string                       `json:"source_name"`
	Mode              string                       `json:"mode"`
	Status            string                       `json:"status"`
	StartedAt         time.Time                    `json:"started_at"`
	CompletedAt       *time.Time                   `json:"completed_at,omitempty"`
	RecordsSynced     int64                        `json:"records_synced"`
	StreamsDiscovered int                          `json:"streams_discovered"`
	Catalog           json.RawMessage              `json:"catalog,omitempty"`
	Log               string                       `json:"log,omitempty"`
	Error             string                       `json:"error,omitempty"`
	SampleRecords     map[string][]json.RawMessage `json:"sample_records,omitempty"`
	LoaderType        string                       `json:"loader_type,omitempty"`
}

// RunFromDomain конвертирует domain.Run в RunResponse.
func RunFromDomain(r domain.Run) RunResponse {
	return RunResponse{
		ID:                r.ID,
		SourceID:          r.SourceID,
		SourceName:        r.SourceName,
		Mode:              string(r.Mode),
		Status:            string(r.Status),
		StartedAt:         r.StartedAt,
		CompletedAt:       r.CompletedAt,
		RecordsSynced:     r.RecordsSynced,
		StreamsDiscovered: r.StreamsDiscovered,
		Catalog:           r.Catalog,
		Log:               r.Log,
		Error:             r.Error,
		SampleRecords:     r.SampleRecords,
		LoaderType:        r.LoaderType,
	}
}

// StartedRunResponse — ответ на принятый sync-запуск: run плюс токен
// для подписки на stream.
type StartedRunResponse struct {
	Run         RunResponse `json:"run"`
	StreamToken string      `json:"stream_token"`
}
