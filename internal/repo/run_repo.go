package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

// RunRepo — репозиторий для работы с runs.
type RunRepo struct {
	db *sql.DB
}

// NewRunRepo создаёт новый RunRepo.
func NewRunRepo(db *sql.DB) *RunRepo {
	return &RunRepo{db: db}
}

// Create создаёт новый run. Запись create-only: последующие изменения
// идут через Update/UpdateStatus.
func (r *RunRepo) Create(ctx context.Context, run *domain.Run) error {
	samplesJSON, err := marshalSamples(run.SampleRecords)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}

	query := `
		INSERT INTO runs (id, source_id, source_name, mode, status, started_at,
		                  completed_at, records_synced, streams_discovered,
		                  catalog, log, error, checkpoint, sample_records,
		                  loader_type, loader_config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID.String(),
		run.SourceID.String(),
		run.SourceName,
		string(run.Mode),
		string(run.Status),
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		nullTime(run.CompletedAt),
		run.RecordsSynced,
		run.StreamsDiscovered,
		nullRaw(run.Catalog),
		nullString(run.Log),
		nullString(run.Error),
		nullRaw(run.Checkpoint),
		samplesJSON,
		nullString(run.LoaderType),
		nullRaw(run.LoaderConfig),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// GetByID возвращает run по ID.
func (r *RunRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Run, error) {
	query := selectRun + ` WHERE id = ?`
	return scanRun(r.db.QueryRowContext(ctx, query, id.String()))
}

// List возвращает список runs с фильтрацией, новые первыми.
func (r *RunRepo) List(ctx context.Context, filter RunFilter) ([]domain.Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	query := selectRun + `
		WHERE (?1 = '' OR source_id = ?1)
		  AND (?2 = '' OR status = ?2)
		ORDER BY started_at DESC
		LIMIT ?3 OFFSET ?4
	`
	var sourceID string
	if filter.SourceID != nil {
		sourceID = filter.SourceID.String()
	}

	rows, err := r.db.QueryContext(ctx, query, sourceID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Update записывает финальное состояние run'а: статус, счётчики, лог,
// чекпоинт и сэмплы. Вызывается ровно один раз при финализации.
func (r *RunRepo) Update(ctx context.Context, run *domain.Run) error {
	samplesJSON, err := marshalSamples(run.SampleRecords)
	if err != nil {
		return fmt.Errorf("marshal samples: %w", err)
	}

	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, records_synced = ?,
		    streams_discovered = ?, catalog = ?, log = ?, error = ?,
		    checkpoint = ?, sample_records = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		string(run.Status),
		nullTime(run.CompletedAt),
		run.RecordsSynced,
		run.StreamsDiscovered,
		nullRaw(run.Catalog),
		nullString(run.Log),
		nullString(run.Error),
		nullRaw(run.Checkpoint),
		samplesJSON,
		run.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateStatus обновляет только статус run'а (PENDING → RUNNING).
func (r *RunRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status domain.RunStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE runs SET status = ? WHERE id = ?`,
		string(status), id.String(),
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LastCheckpoint возвращает чекпоинт последнего успешного sync-run'а
// источника. Возвращает nil без ошибки, если резюмировать нечего.
func (r *RunRepo) LastCheckpoint(ctx context.Context, sourceID uuid.UUID) (json.RawMessage, error) {
	query := `
		SELECT checkpoint FROM runs
		WHERE source_id = ? AND mode = 'sync' AND status = 'COMPLETED'
		  AND checkpoint IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1
	`
	var checkpoint sql.NullString
	err := r.db.QueryRowContext(ctx, query, sourceID.String()).Scan(&checkpoint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last checkpoint: %w", err)
	}
	if !checkpoint.Valid {
		return nil, nil
	}
	return json.RawMessage(checkpoint.String), nil
}

// LastCatalog возвращает каталог последнего успешного discover-run'а
// источника. Возвращает nil без ошибки, если discovery ещё не выполнялся.
func (r *RunRepo) LastCatalog(ctx context.Context, sourceID uuid.UUID) (json.RawMessage, error) {
	query := `
		SELECT catalog FROM runs
		WHERE source_id = ? AND mode = 'discover' AND status = 'COMPLETED'
		  AND catalog IS NOT NULL
		ORDER BY started_at DESC
		LIMIT 1
	`
	var catalog sql.NullString
	err := r.db.QueryRowContext(ctx, query, sourceID.String()).Scan(&catalog)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last catalog: %w", err)
	}
	if !catalog.Valid {
		return nil, nil
	}
	return json.RawMessage(catalog.String), nil
}

// ListUnfinished возвращает все нетерминальные runs. Используется при
// старте для финализации записей, осиротевших после рестарта хоста.
func (r *RunRepo) ListUnfinished(ctx context.Context) ([]domain.Run, error) {
	query := selectRun + `
		WHERE status IN ('PENDING', 'DISCOVERING', 'RUNNING')
		ORDER BY started_at
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list unfinished runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// --- Helpers ---

// RunFilter — параметры фильтрации runs.
type RunFilter struct {
	SourceID *uuid.UUID
	Status   domain.RunStatus
	Limit    int
	Offset   int
}

const selectRun = `
	SELECT id, source_id, source_name, mode, status, started_at, completed_at,
	       records_synced, streams_discovered, catalog, log, error, checkpoint,
	       sample_records, loader_type, loader_config
	FROM runs`

// rowScanner — общий интерфейс sql.Row и sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanRun сканирует одну строку в Run.
func scanRun(row rowScanner) (*domain.Run, error) {
	var run domain.Run
	var id, sourceID, mode, status, startedAt string
	var completedAt, catalog, log, runError, checkpoint, samples, loaderType, loaderConfig sql.NullString

	err := row.Scan(
		&id,
		&sourceID,
		&run.SourceName,
		&mode,
		&status,
		&startedAt,
		&completedAt,
		&run.RecordsSynced,
		&run.StreamsDiscovered,
		&catalog,
		&log,
		&runError,
		&checkpoint,
		&samples,
		&loaderType,
		&loaderConfig,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan run: %w", err)
	}

	if run.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse run id: %w", err)
	}
	if run.SourceID, err = uuid.Parse(sourceID); err != nil {
		return nil, fmt.Errorf("parse source id: %w", err)
	}
	run.Mode = domain.RunMode(mode)
	run.Status = domain.RunStatus(status)

	if run.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}

	if catalog.Valid {
		run.Catalog = json.RawMessage(catalog.String)
	}
	if log.Valid {
		run.Log = log.String
	}
	if runError.Valid {
		run.Error = runError.String
	}
	if checkpoint.Valid {
		run.Checkpoint = json.RawMessage(checkpoint.String)
	}
	if samples.Valid && samples.String != "" {
		if err := json.Unmarshal([]byte(samples.String), &run.SampleRecords); err != nil {
			return nil, fmt.Errorf("unmarshal samples: %w", err)
		}
	}
	if loaderType.Valid {
		run.LoaderType = loaderType.String
	}
	if loaderConfig.Valid {
		run.LoaderConfig = json.RawMessage(loaderConfig.String)
	}

	return &run, nil
}

// marshalSamples сериализует сэмплы; пустая карта — NULL.
func marshalSamples(samples map[string][]json.RawMessage) (*string, error) {
	if len(samples) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(samples)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// nullString возвращает nil для пустой строки (NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullRaw возвращает nil для пустого JSON-документа.
func nullRaw(raw json.RawMessage) *string {
	if len(raw) == 0 {
		return nil
	}
	s := string(raw)
	return &s
}

// nullTime возвращает nil для незаполненного времени.
func nullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
