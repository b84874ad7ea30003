package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Лимиты на буферы run'а.
const (
	// MaxLogLines — максимум строк в логе run'а.
	// При переполнении вытесняется самая старая строка (FIFO).
	MaxLogLines = 500

	// MaxSamplePerStream — максимум сэмплов записей на один stream.
	// Записи сверх лимита считаются в счётчике, но не сохраняются.
	MaxSamplePerStream = 10
)

// Run — один запуск пайплайна (extractor, опционально + loader).
//
// Run создаётся когда:
// - Пользователь запускает sync через API/CLI
// - Пользователь запрашивает discovery схем источника
//
// После перехода в терминальный статус запись неизменяема.
type Run struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// SourceID — источник, для которого выполняется run.
	SourceID uuid.UUID `json:"source_id"`

	// SourceName — имя источника на момент запуска (денормализовано,
	// чтобы история run'ов переживала удаление источника).
	SourceName string `json:"source_name"`

	// Mode — discover или sync.
	Mode RunMode `json:"mode"`

	// Status — текущий статус выполнения.
	Status RunStatus `json:"status"`

	// StartedAt — время запуска run.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения. Nil, пока run не терминален.
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// RecordsSynced — количество RECORD-сообщений extractor'а.
	RecordsSynced int64 `json:"records_synced"`

	// StreamsDiscovered — количество SCHEMA-сообщений extractor'а.
	StreamsDiscovered int `json:"streams_discovered"`

	// Catalog — каталог схем (только для mode=discover).
	Catalog json.RawMessage `json:"catalog,omitempty"`

	// Log — ограниченный лог run'а, строки склеены через \n.
	Log string `json:"log,omitempty"`

	// Error — текст ошибки, если run завершился с FAILED.
	Error string `json:"error,omitempty"`

	// Checkpoint — последнее STATE-сообщение extractor'а, verbatim.
	// Передаётся следующему sync-run'у для инкрементального резюма.
	Checkpoint json.RawMessage `json:"checkpoint,omitempty"`

	// SampleRecords — сэмплы записей по stream'ам (до MaxSamplePerStream).
	SampleRecords map[string][]json.RawMessage `json:"sample_records,omitempty"`

	// LoaderType — имя loader-бинарника, если loader подключён.
	LoaderType string `json:"loader_type,omitempty"`

	// LoaderConfig — конфигурация loader'а.
	LoaderConfig json.RawMessage `json:"loader_config,omitempty"`
}

// IsFinished возвращает true, если run завершён (в любом терминальном статусе).
func (r *Run) IsFinished() bool {
	return r.Status.IsTerminal()
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если run ещё не завершён.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// MarkRunning переводит run в статус RUNNING.
func (r *Run) MarkRunning() {
	r.Status = RunStatusRunning
}

// MarkCompleted переводит run в статус COMPLETED.
func (r *Run) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.CompletedAt = &now
}

// MarkFailed переводит run в статус FAILED с ошибкой.
func (r *Run) MarkFailed(err string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.CompletedAt = &now
	r.Error = err
}

// MarkStopped переводит run в статус STOPPED.
func (r *Run) MarkStopped() {
	now := time.Now()
	r.Status = RunStatusStopped
	r.CompletedAt = &now
}

// AppendLog добавляет строку в лог с вытеснением самой старой при
// переполнении. Используется для терминальных маркеров; живой лог
// run'а ведёт orchestrator.RunState.
func (r *Run) AppendLog(line string) {
	lines := []string{}
	if r.Log != "" {
		lines = strings.Split(r.Log, "\n")
	}
	lines = append(lines, line)
	if len(lines) > MaxLogLines {
		lines = lines[len(lines)-MaxLogLines:]
	}
	r.Log = strings.Join(lines, "\n")
}

// TimeoutMarker возвращает маркерную строку для лога при таймауте.
func TimeoutMarker(timeout time.Duration) string {
	return fmt.Sprintf("conveyor: run timed out after %s, process terminated", timeout)
}

// StopMarker — маркерная строка для лога при остановке пользователем.
const StopMarker = "conveyor: run stopped by request"
