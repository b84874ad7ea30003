package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// SourceResponse — источник из API.
type SourceResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	TapType    string `json:"tap_type"`
	LoaderType string `json:"loader_type,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// RunResponse — run из API.
type RunResponse struct {
	ID                string          `json:"id"`
	SourceID          string          `json:"source_id"`
	SourceName        string          `json:"source_name"`
	Mode              string          `json:"mode"`
	Status            string          `json:"status"`
	StartedAt         string          `json:"started_at"`
	CompletedAt       string          `json:"completed_at,omitempty"`
	RecordsSynced     int64           `json:"records_synced"`
	StreamsDiscovered int             `json:"streams_discovered"`
	Catalog           json.RawMessage `json:"catalog,omitempty"`
	Log               string          `json:"log,omitempty"`
	Error             string          `json:"error,omitempty"`
	LoaderType        string          `json:"loader_type,omitempty"`
}

// StartedRunResponse — принятый sync-запуск: run плюс stream-токен.
type StartedRunResponse struct {
	Run         RunResponse `json:"run"`
	StreamToken string      `json:"stream_token"`
}

// StreamEvent — событие из websocket-потока run'а.
type StreamEvent struct {
	Type              string   `json:"type"`
	Line              string   `json:"line,omitempty"`
	Lines             []string `json:"lines,omitempty"`
	Status            string   `json:"status,omitempty"`
	RecordsSynced     int64    `json:"records_synced,omitempty"`
	StreamsDiscovered int      `json:"streams_discovered,omitempty"`
	Message           string   `json:"message,omitempty"`
}

// --- Request types ---

// CreateSourceRequest — создание источника.
type CreateSourceRequest struct {
	Name         string          `json:"name"`
	TapType      string          `json:"tap_type"`
	Config       json.RawMessage `json:"config"`
	LoaderType   string          `json:"loader_type,omitempty"`
	LoaderConfig json.RawMessage `json:"loader_config,omitempty"`
}

// ListRunsOpts — параметры фильтрации runs.
type ListRunsOpts struct {
	SourceID string
	Status   string
	Limit    int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code          string `json:"code"`
		Message       string `json:"message"`
		ExistingRunID string `json:"existing_run_id,omitempty"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Conveyor API.
type Client struct {
	baseURL    string
	httpClient *http.Client

	// longClient — без таймаута: discover блокирует до выхода
	// extractor'а, что может занять дольше обычного запроса.
	longClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		longClient: &http.Client{},
	}
}

// --- Sources ---

// ListSources возвращает все источники.
func (c *Client) ListSources() ([]SourceResponse, error) {
	var sources []SourceResponse
	err := c.list("/api/v1/sources", nil, &sources)
	return sources, err
}

// CreateSource создаёт новый источник.
func (c *Client) CreateSource(req CreateSourceRequest) (*SourceResponse, error) {
	var src SourceResponse
	err := c.post("/api/v1/sources", req, &src)
	return &src, err
}

// GetSource возвращает источник по ID.
func (c *Client) GetSource(id string) (*SourceResponse, error) {
	var src SourceResponse
	err := c.get("/api/v1/sources/"+id, &src)
	return &src, err
}

// DeleteSource удаляет источник.
func (c *Client) DeleteSource(id string) error {
	return c.delete("/api/v1/sources/" + id)
}

// --- Runs ---

// ListRuns возвращает список runs с фильтрацией.
func (c *Client) ListRuns(opts ListRunsOpts) ([]RunResponse, error) {
	params := url.Values{}
	if opts.SourceID != "" {
		params.Set("source_id", opts.SourceID)
	}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var runs []RunResponse
	err := c.list("/api/v1/runs", params, &runs)
	return runs, err
}

// StartSync запускает sync-пайплайн источника.
func (c *Client) StartSync(sourceID string) (*StartedRunResponse, error) {
	var started StartedRunResponse
	err := c.post("/api/v1/sources/"+sourceID+"/sync", nil, &started)
	return &started, err
}

// Discover выполняет discovery схем источника. Блокирует до завершения.
func (c *Client) Discover(sourceID string) (*RunResponse, error) {
	req, err := http.NewRequest(http.MethodPost,
		c.baseURL+"/api/v1/sources/"+sourceID+"/discover", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.longClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return nil, err
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	var run RunResponse
	if err := json.Unmarshal(dr.Data, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// GetRun возвращает run по ID.
func (c *Client) GetRun(id string) (*RunResponse, error) {
	var run RunResponse
	err := c.get("/api/v1/runs/"+id, &run)
	return &run, err
}

// StopRun останавливает run.
func (c *Client) StopRun(id string) error {
	return c.post("/api/v1/runs/"+id+"/stop", nil, nil)
}

// StreamRun открывает websocket-поток событий run'а и вызывает fn для
// каждого события. Возвращается, когда сервер закрывает поток.
func (c *Client) StreamRun(runID, token string, fn func(StreamEvent)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) +
		"/api/v1/runs/" + runID + "/stream"
	if token != "" {
		wsURL += "?token=" + url.QueryEscape(token)
	}

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		if resp != nil && resp.Body != nil {
			defer resp.Body.Close()
			var er errorResponse
			if decodeErr := json.NewDecoder(resp.Body).Decode(&er); decodeErr == nil {
				return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
			}
		}
		return fmt.Errorf("connect to stream: %w", err)
	}
	defer conn.Close()

	for {
		var ev StreamEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		fn(ev)
	}
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) delete(path string) error {
	resp, err := c.do(http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkError(resp)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	if er.Error.ExistingRunID != "" {
		return fmt.Errorf("%s: %s (existing run: %s)",
			er.Error.Code, er.Error.Message, er.Error.ExistingRunID)
	}
	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
