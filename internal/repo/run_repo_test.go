package repo

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
)

func newTestDB(t *testing.T) *RunRepo {
	t.Helper()
	db, err := NewDB(context.Background(), filepath.Join(t.TempDir(), "conveyor.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewRunRepo(db)
}

func newTestRun(sourceID uuid.UUID, mode domain.RunMode, status domain.RunStatus) *domain.Run {
	return &domain.Run{
		ID:         uuid.New(),
		SourceID:   sourceID,
		SourceName: "crm",
		Mode:       mode,
		Status:     status,
		StartedAt:  time.Now(),
	}
}

func TestRunRepo_CreateAndGet(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	run := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusPending)
	run.LoaderType = "target-jsonl"
	run.LoaderConfig = json.RawMessage(`{"destination_path":"/data/out"}`)

	if err := r.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	got, err := r.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.ID != run.ID {
		t.Errorf("expected id %s, got %s", run.ID, got.ID)
	}
	if got.Status != domain.RunStatusPending {
		t.Errorf("expected PENDING, got %s", got.Status)
	}
	if got.Mode != domain.RunModeSync {
		t.Errorf("expected sync mode, got %s", got.Mode)
	}
	if got.LoaderType != "target-jsonl" {
		t.Errorf("expected loader type, got %q", got.LoaderType)
	}
	if got.CompletedAt != nil {
		t.Error("fresh run should not have completed_at")
	}
}

func TestRunRepo_GetByID_NotFound(t *testing.T) {
	r := newTestDB(t)

	_, err := r.GetByID(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepo_Update(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	run := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusRunning)
	if err := r.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	run.MarkCompleted()
	run.RecordsSynced = 42
	run.StreamsDiscovered = 3
	run.Log = "line one\nline two"
	run.Checkpoint = json.RawMessage(`{"bookmarks":{"users":{"id":42}}}`)
	run.SampleRecords = map[string][]json.RawMessage{
		"users": {json.RawMessage(`{"id":1}`)},
	}

	if err := r.Update(ctx, run); err != nil {
		t.Fatalf("update run: %v", err)
	}

	got, err := r.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != domain.RunStatusCompleted {
		t.Errorf("expected COMPLETED, got %s", got.Status)
	}
	if got.RecordsSynced != 42 {
		t.Errorf("expected 42 records, got %d", got.RecordsSynced)
	}
	if got.Log != "line one\nline two" {
		t.Errorf("unexpected log: %q", got.Log)
	}
	if string(got.Checkpoint) != `{"bookmarks":{"users":{"id":42}}}` {
		t.Errorf("checkpoint should round-trip verbatim, got %q", got.Checkpoint)
	}
	if len(got.SampleRecords["users"]) != 1 {
		t.Errorf("expected 1 sample, got %d", len(got.SampleRecords["users"]))
	}
	if got.CompletedAt == nil {
		t.Error("terminal run should have completed_at")
	}
}

func TestRunRepo_Update_NotFound(t *testing.T) {
	r := newTestDB(t)

	run := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusCompleted)
	if err := r.Update(context.Background(), run); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunRepo_UpdateStatus(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	run := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusPending)
	if err := r.Create(ctx, run); err != nil {
		t.Fatalf("create run: %v", err)
	}

	if err := r.UpdateStatus(ctx, run.ID, domain.RunStatusRunning); err != nil {
		t.Fatalf("update status: %v", err)
	}

	got, _ := r.GetByID(ctx, run.ID)
	if got.Status != domain.RunStatusRunning {
		t.Errorf("expected RUNNING, got %s", got.Status)
	}
}

func TestRunRepo_List(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	sourceA := uuid.New()
	sourceB := uuid.New()

	for i := 0; i < 3; i++ {
		run := newTestRun(sourceA, domain.RunModeSync, domain.RunStatusCompleted)
		run.StartedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if err := r.Create(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}
	failed := newTestRun(sourceB, domain.RunModeSync, domain.RunStatusFailed)
	if err := r.Create(ctx, failed); err != nil {
		t.Fatalf("create run: %v", err)
	}

	all, err := r.List(ctx, RunFilter{})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("expected 4 runs, got %d", len(all))
	}

	bySource, err := r.List(ctx, RunFilter{SourceID: &sourceA})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(bySource) != 3 {
		t.Errorf("expected 3 runs for source A, got %d", len(bySource))
	}

	byStatus, err := r.List(ctx, RunFilter{Status: domain.RunStatusFailed})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(byStatus) != 1 {
		t.Errorf("expected 1 failed run, got %d", len(byStatus))
	}

	limited, err := r.List(ctx, RunFilter{Limit: 2})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 runs with limit, got %d", len(limited))
	}
	// Новые первыми
	if len(limited) == 2 && limited[0].StartedAt.Before(limited[1].StartedAt) {
		t.Error("runs should be ordered newest first")
	}
}

func TestRunRepo_LastCheckpoint(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()
	sourceID := uuid.New()

	// Нет завершённых runs — нет чекпоинта, и это не ошибка
	cp, err := r.LastCheckpoint(ctx, sourceID)
	if err != nil {
		t.Fatalf("last checkpoint: %v", err)
	}
	if cp != nil {
		t.Errorf("expected no checkpoint, got %q", cp)
	}

	older := newTestRun(sourceID, domain.RunModeSync, domain.RunStatusCompleted)
	older.StartedAt = time.Now().Add(-time.Hour)
	older.Checkpoint = json.RawMessage(`{"v":1}`)
	newer := newTestRun(sourceID, domain.RunModeSync, domain.RunStatusCompleted)
	newer.Checkpoint = json.RawMessage(`{"v":2}`)
	// Упавший run свежее обоих, но его чекпоинт не резюмируется
	failed := newTestRun(sourceID, domain.RunModeSync, domain.RunStatusFailed)
	failed.StartedAt = time.Now().Add(time.Hour)
	failed.Checkpoint = json.RawMessage(`{"v":3}`)

	for _, run := range []*domain.Run{older, newer, failed} {
		if err := r.Create(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	cp, err = r.LastCheckpoint(ctx, sourceID)
	if err != nil {
		t.Fatalf("last checkpoint: %v", err)
	}
	if string(cp) != `{"v":2}` {
		t.Errorf("expected checkpoint of the latest COMPLETED sync, got %q", cp)
	}
}

func TestRunRepo_LastCatalog(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()
	sourceID := uuid.New()

	discover := newTestRun(sourceID, domain.RunModeDiscover, domain.RunStatusCompleted)
	discover.Catalog = json.RawMessage(`{"streams":[{"stream":"users"}]}`)
	if err := r.Create(ctx, discover); err != nil {
		t.Fatalf("create run: %v", err)
	}

	catalog, err := r.LastCatalog(ctx, sourceID)
	if err != nil {
		t.Fatalf("last catalog: %v", err)
	}
	if string(catalog) != `{"streams":[{"stream":"users"}]}` {
		t.Errorf("unexpected catalog: %q", catalog)
	}

	// Для другого источника каталога нет
	other, err := r.LastCatalog(ctx, uuid.New())
	if err != nil {
		t.Fatalf("last catalog: %v", err)
	}
	if other != nil {
		t.Errorf("expected no catalog for another source, got %q", other)
	}
}

func TestRunRepo_ListUnfinished(t *testing.T) {
	r := newTestDB(t)
	ctx := context.Background()

	pending := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusPending)
	running := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusRunning)
	discovering := newTestRun(uuid.New(), domain.RunModeDiscover, domain.RunStatusDiscovering)
	completed := newTestRun(uuid.New(), domain.RunModeSync, domain.RunStatusCompleted)

	for _, run := range []*domain.Run{pending, running, discovering, completed} {
		if err := r.Create(ctx, run); err != nil {
			t.Fatalf("create run: %v", err)
		}
	}

	unfinished, err := r.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("list unfinished: %v", err)
	}
	if len(unfinished) != 3 {
		t.Errorf("expected 3 unfinished runs, got %d", len(unfinished))
	}
	for _, run := range unfinished {
		if run.IsFinished() {
			t.Errorf("run %s is terminal but was listed as unfinished", run.ID)
		}
	}
}
