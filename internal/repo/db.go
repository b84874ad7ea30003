package repo

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// schema — встроенная схема БД. Применяется идемпотентно при старте.
const schema = `
CREATE TABLE IF NOT EXISTS sources (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	tap_type      TEXT NOT NULL,
	config        TEXT NOT NULL,
	loader_type   TEXT,
	loader_config TEXT,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	source_id          TEXT NOT NULL,
	source_name        TEXT NOT NULL,
	mode               TEXT NOT NULL,
	status             TEXT NOT NULL,
	started_at         TEXT NOT NULL,
	completed_at       TEXT,
	records_synced     INTEGER NOT NULL DEFAULT 0,
	streams_discovered INTEGER NOT NULL DEFAULT 0,
	catalog            TEXT,
	log                TEXT,
	error              TEXT,
	checkpoint         TEXT,
	sample_records     TEXT,
	loader_type        TEXT,
	loader_config      TEXT
);

CREATE INDEX IF NOT EXISTS idx_runs_source_id ON runs(source_id);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// NewDB открывает встроенную SQLite-базу и применяет схему.
//
// WAL и busy_timeout — для конкурентного доступа из API и оркестратора.
// Пул ограничен одним соединением: запись в SQLite сериализуется, иначе
// конкурентные апдейты счётчиков упираются в "database is locked".
func NewDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return db, nil
}
