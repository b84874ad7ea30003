package workdir

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Kind — вид материализуемого документа.
type Kind string

const (
	// KindConfig — конфигурация extractor'а (config.json).
	KindConfig Kind = "config"

	// KindCatalog — каталог схем для sync-запуска (catalog.json).
	KindCatalog Kind = "catalog"

	// KindState — чекпоинт предыдущего запуска (state.json).
	KindState Kind = "state"

	// KindLoaderConfig — конфигурация loader'а (loader_config.json).
	KindLoaderConfig Kind = "loader_config"
)

// Materializer пишет документы run'а на диск и убирает их на каждом
// пути выхода.
//
// Корень — приватная директория процесса (0700), не общий /tmp: на одном
// хосте конкурентно выполняются недоверенные extractor-бинарники, и их
// конфиги (с credentials) не должны быть читаемы друг другу.
type Materializer struct {
	root   string
	logger *slog.Logger
}

// New создаёт Materializer с корнем root. Директория создаётся с правами
// 0700, если её ещё нет.
func New(root string, logger *slog.Logger) (*Materializer, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("create workdir root: %w", err)
	}
	// MkdirAll не ужесточает права существующей директории
	if err := os.Chmod(root, 0o700); err != nil {
		return nil, fmt.Errorf("chmod workdir root: %w", err)
	}
	return &Materializer{root: root, logger: logger}, nil
}

// Write пишет один JSON-документ run'а и возвращает путь к файлу.
// Файлы получают права 0600, директория run'а — 0700.
func (m *Materializer) Write(runID uuid.UUID, kind Kind, doc json.RawMessage) (string, error) {
	dir := m.runDir(runID)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create run dir: %w", err)
	}

	path := filepath.Join(dir, string(kind)+".json")
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		return "", fmt.Errorf("write %s: %w", kind, err)
	}
	return path, nil
}

// Cleanup удаляет все файлы run'а. Best-effort: собственные ошибки
// логируются, но не возвращаются — cleanup вызывается на каждом пути
// выхода и не должен маскировать исходную причину завершения.
func (m *Materializer) Cleanup(runID uuid.UUID) {
	dir := m.runDir(runID)
	if err := os.RemoveAll(dir); err != nil {
		m.logger.Warn("failed to clean up run workdir",
			"run_id", runID,
			"dir", dir,
			"error", err,
		)
	}
}

func (m *Materializer) runDir(runID uuid.UUID) string {
	return filepath.Join(m.root, runID.String())
}
