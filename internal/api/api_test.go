package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/registry"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/supervisor"
	"github.com/shaiso/Conveyor/internal/workdir"
)

// stubSupervisor — процессы не запускаются: каждый run мгновенно
// завершается с exit 0.
type stubSupervisor struct{}

type stubHandle struct {
	events chan supervisor.Event
}

func (h *stubHandle) Events() <-chan supervisor.Event { return h.events }
func (h *stubHandle) Kill()                           {}

func (s *stubSupervisor) Start(runID uuid.UUID, extractor supervisor.Spec, loader *supervisor.Spec) (supervisor.Handle, error) {
	h := &stubHandle{events: make(chan supervisor.Event, 1)}
	h.events <- supervisor.Event{Kind: supervisor.EventExit, Exit: supervisor.Exit{Code: 0}}
	close(h.events)
	return h, nil
}

func (s *stubSupervisor) Stop(runID uuid.UUID) bool { return false }
func (s *stubSupervisor) Timeout() time.Duration    { return 15 * time.Minute }
func (s *stubSupervisor) Shutdown()                 {}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()

	db, err := repo.NewDB(ctx, filepath.Join(t.TempDir(), "conveyor.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(testLogWriter{t}, nil))
	m, err := workdir.New(filepath.Join(t.TempDir(), "workdir"), logger)
	if err != nil {
		t.Fatalf("create materializer: %v", err)
	}

	sourceRepo := repo.NewSourceRepo(db)
	orch := orchestrator.New(orchestrator.Config{
		RunRepo:    repo.NewRunRepo(db),
		SourceRepo: sourceRepo,
		Registry:   registry.New(),
		Supervisor: &stubSupervisor{},
		Workdir:    m,
		Logger:     logger,
	})
	t.Cleanup(orch.Shutdown)

	handler := NewHandler(Config{
		Orchestrator: orch,
		SourceRepo:   sourceRepo,
		Logger:       logger,
	})

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(string(bytes.TrimRight(p, "\n")))
	return len(p), nil
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func decodeData[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var dr struct {
		Data T `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return dr.Data
}

func createTestSource(t *testing.T, server *httptest.Server) SourceResponse {
	t.Helper()
	resp := postJSON(t, server.URL+"/api/v1/sources", CreateSourceRequest{
		Name:    "crm",
		TapType: "tap-rest-api",
		Config:  json.RawMessage(`{"api_url":"https://crm.example.com"}`),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return decodeData[SourceResponse](t, resp)
}

func TestAPI_CreateSource(t *testing.T) {
	server := newTestServer(t)

	src := createTestSource(t, server)
	if src.Name != "crm" {
		t.Errorf("expected name crm, got %q", src.Name)
	}
	if src.ID == uuid.Nil {
		t.Error("source should get an id")
	}

	// Конфиг с credentials не отдаётся наружу
	resp, err := http.Get(server.URL + "/api/v1/sources/" + src.ID.String())
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	defer resp.Body.Close()
	var raw map[string]json.RawMessage
	var dr struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal(dr.Data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := raw["config"]; ok {
		t.Error("source config must not be exposed in responses")
	}
}

func TestAPI_CreateSource_Validation(t *testing.T) {
	server := newTestServer(t)

	cases := []struct {
		name string
		req  CreateSourceRequest
	}{
		{"missing name", CreateSourceRequest{TapType: "tap-rest-api", Config: json.RawMessage(`{}`)}},
		{"tap outside allow-list", CreateSourceRequest{Name: "x", TapType: "rm", Config: json.RawMessage(`{}`)}},
		{"loader outside allow-list", CreateSourceRequest{Name: "x", TapType: "tap-rest-api", Config: json.RawMessage(`{}`), LoaderType: "bash"}},
		{"invalid config", CreateSourceRequest{Name: "x", TapType: "tap-rest-api", Config: json.RawMessage(`{broken`)}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := postJSON(t, server.URL+"/api/v1/sources", tc.req)
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", resp.StatusCode)
			}
		})
	}
}

func TestAPI_DeleteSource(t *testing.T) {
	server := newTestServer(t)
	src := createTestSource(t, server)

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/api/v1/sources/"+src.ID.String(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete source: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/v1/sources/" + src.ID.String())
	if err != nil {
		t.Fatalf("get source: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestAPI_StartSync(t *testing.T) {
	server := newTestServer(t)
	src := createTestSource(t, server)

	resp := postJSON(t, server.URL+"/api/v1/sources/"+src.ID.String()+"/sync", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	started := decodeData[StartedRunResponse](t, resp)
	if started.Run.Status != "PENDING" {
		t.Errorf("accepted run should be PENDING, got %s", started.Run.Status)
	}
	if started.StreamToken == "" {
		t.Error("response should carry a stream token")
	}

	// Run доступен по id
	deadline := time.Now().Add(5 * time.Second)
	for {
		getResp, err := http.Get(server.URL + "/api/v1/runs/" + started.Run.ID.String())
		if err != nil {
			t.Fatalf("get run: %v", err)
		}
		run := decodeData[RunResponse](t, getResp)
		if run.Status == "COMPLETED" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never completed, status %s", run.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestAPI_StartSync_UnknownSource(t *testing.T) {
	server := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/v1/sources/"+uuid.NewString()+"/sync", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestAPI_GetRun_NotFound(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/api/v1/runs/" + uuid.NewString())
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}

	resp, err = http.Get(server.URL + "/api/v1/runs/not-a-uuid")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", resp.StatusCode)
	}
}

func TestAPI_Healthz(t *testing.T) {
	server := newTestServer(t)

	resp, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
