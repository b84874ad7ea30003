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

// SourceRepo — репозиторий конфигураций источников.
//
// Полноценное управление источниками (шифрование credentials, импорт,
// конструктор) живёт вне оркестратора; здесь минимум, достаточный чтобы
// разрешить source id в конфигурацию tap'а.
type SourceRepo struct {
	db *sql.DB
}

// NewSourceRepo создаёт новый SourceRepo.
func NewSourceRepo(db *sql.DB) *SourceRepo {
	return &SourceRepo{db: db}
}

// Create создаёт новый источник.
func (r *SourceRepo) Create(ctx context.Context, src *domain.Source) error {
	query := `
		INSERT INTO sources (id, name, tap_type, config, loader_type, loader_config, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		src.ID.String(),
		src.Name,
		src.TapType,
		string(src.Config),
		nullString(src.LoaderType),
		nullRaw(src.LoaderConfig),
		src.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetByID возвращает источник по ID.
func (r *SourceRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Source, error) {
	query := `
		SELECT id, name, tap_type, config, loader_type, loader_config, created_at
		FROM sources
		WHERE id = ?
	`
	return scanSource(r.db.QueryRowContext(ctx, query, id.String()))
}

// List возвращает все источники, новые первыми.
func (r *SourceRepo) List(ctx context.Context) ([]domain.Source, error) {
	query := `
		SELECT id, name, tap_type, config, loader_type, loader_config, created_at
		FROM sources
		ORDER BY created_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var sources []domain.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *src)
	}
	return sources, rows.Err()
}

// Delete удаляет источник. История runs сохраняется (source_name
// денормализовано в runs).
func (r *SourceRepo) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// scanSource сканирует одну строку в Source.
func scanSource(row rowScanner) (*domain.Source, error) {
	var src domain.Source
	var id, config, createdAt string
	var loaderType, loaderConfig sql.NullString

	err := row.Scan(&id, &src.Name, &src.TapType, &config, &loaderType, &loaderConfig, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan source: %w", err)
	}

	if src.ID, err = uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("parse source id: %w", err)
	}
	src.Config = json.RawMessage(config)
	if loaderType.Valid {
		src.LoaderType = loaderType.String
	}
	if loaderConfig.Valid {
		src.LoaderConfig = json.RawMessage(loaderConfig.String)
	}
	if src.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}

	return &src, nil
}
