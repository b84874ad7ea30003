package workdir

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
)

func newTestMaterializer(t *testing.T) *Materializer {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "runs"), slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return m
}

func TestMaterializer_WriteAndCleanup(t *testing.T) {
	m := newTestMaterializer(t)
	runID := uuid.New()

	path, err := m.Write(runID, KindConfig, json.RawMessage(`{"api_key":"secret"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("file should exist: %v", err)
	}
	if string(data) != `{"api_key":"secret"}` {
		t.Errorf("unexpected content: %s", data)
	}

	m.Cleanup(runID)

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("file should be removed after cleanup")
	}
}

func TestMaterializer_Permissions(t *testing.T) {
	m := newTestMaterializer(t)
	runID := uuid.New()

	path, err := m.Write(runID, KindState, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("expected file mode 0600, got %o", perm)
	}

	dirInfo, err := os.Stat(filepath.Dir(path))
	if err != nil {
		t.Fatalf("stat dir: %v", err)
	}
	if perm := dirInfo.Mode().Perm(); perm != 0o700 {
		t.Errorf("expected dir mode 0700, got %o", perm)
	}
}

func TestMaterializer_MultipleKinds(t *testing.T) {
	m := newTestMaterializer(t)
	runID := uuid.New()

	kinds := []Kind{KindConfig, KindCatalog, KindState, KindLoaderConfig}
	for _, kind := range kinds {
		if _, err := m.Write(runID, kind, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("write %s: %v", kind, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(m.root, runID.String()))
	if err != nil {
		t.Fatalf("read run dir: %v", err)
	}
	if len(entries) != len(kinds) {
		t.Errorf("expected %d files, got %d", len(kinds), len(entries))
	}
}

func TestMaterializer_CleanupIsIdempotent(t *testing.T) {
	m := newTestMaterializer(t)
	runID := uuid.New()

	// Cleanup без единого Write не должен паниковать или логировать ошибку
	m.Cleanup(runID)
	m.Cleanup(runID)
}
