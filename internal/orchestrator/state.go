package orchestrator

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shaiso/Conveyor/internal/domain"
	"github.com/shaiso/Conveyor/internal/protocol"
	"github.com/shaiso/Conveyor/internal/stream"
)

// loaderMarker — префикс, которым помечаются строки stderr loader'а
// перед классификацией и буферизацией.
const loaderMarker = "[loader] "

// RunState — живое состояние одного run'а.
//
// Мутируется ровно одной горутиной — потребителем событий процесса.
// Чтение из других контекстов (API) идёт через Snapshot, который
// возвращает консистентную копию, а не живую ссылку.
type RunState struct {
	run *domain.Run

	broadcaster *stream.Broadcaster
	splitter    protocol.Splitter

	// lines — ограниченный лог run'а (FIFO-вытеснение).
	lines []string

	// catalog — аккумулятор stdout для discover-режима: каталог
	// приходит одним JSON-документом, возможно многострочным.
	catalog bytes.Buffer

	// stopRequested — пользователь запросил остановку.
	stopRequested bool

	mu sync.RWMutex
}

// NewRunState создаёт RunState для run'а.
func NewRunState(run *domain.Run) *RunState {
	return &RunState{
		run:         run,
		broadcaster: stream.NewBroadcaster(),
	}
}

// RunID возвращает ID run'а (registry.Handle).
func (s *RunState) RunID() uuid.UUID {
	return s.run.ID
}

// SourceID возвращает ID источника (registry.Handle).
func (s *RunState) SourceID() uuid.UUID {
	return s.run.SourceID
}

// Broadcaster возвращает push-канал run'а.
func (s *RunState) Broadcaster() *stream.Broadcaster {
	return s.broadcaster
}

// RequestStop помечает run на остановку. Идемпотентно.
func (s *RunState) RequestStop() {
	s.mu.Lock()
	s.stopRequested = true
	s.mu.Unlock()
}

// StopRequested проверяет, была ли запрошена остановка.
func (s *RunState) StopRequested() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopRequested
}

// MarkRunning переводит run в RUNNING и рассылает снапшот статуса.
func (s *RunState) MarkRunning() {
	s.mu.Lock()
	s.run.MarkRunning()
	ev := s.statusEventLocked()
	s.mu.Unlock()

	s.broadcaster.Publish(ev)
}

// MarkCompleted переводит run в COMPLETED.
func (s *RunState) MarkCompleted() {
	s.mu.Lock()
	s.run.MarkCompleted()
	s.mu.Unlock()
}

// MarkFailed переводит run в FAILED с ошибкой.
func (s *RunState) MarkFailed(msg string) {
	s.mu.Lock()
	s.run.MarkFailed(msg)
	s.mu.Unlock()
}

// MarkStopped переводит run в STOPPED.
func (s *RunState) MarkStopped() {
	s.mu.Lock()
	s.run.MarkStopped()
	s.mu.Unlock()
}

// ApplyLine классифицирует строку протокола и применяет её к состоянию:
// счётчики, сэмплы, чекпоинт, лог. Возвращает события для трансляции.
//
// Строки loader'а помечаются маркером до классификации — они всегда
// opaque. Неразбираемые строки — тоже opaque и никогда не ошибка.
func (s *RunState) ApplyLine(line string, loaderOrigin bool) {
	if loaderOrigin {
		line = loaderMarker + line
	}

	msg := protocol.Classify(line)

	s.mu.Lock()
	counted := false
	switch msg.Kind {
	case domain.KindRecord:
		s.run.RecordsSynced++
		s.sampleLocked(msg.Stream, msg.Record)
		counted = true
	case domain.KindSchema:
		s.run.StreamsDiscovered++
		counted = true
	case domain.KindCheckpoint:
		// Чекпоинт хранится verbatim — содержимое не интерпретируется
		s.run.Checkpoint = json.RawMessage(line)
	case domain.KindOpaque:
		// Просто строка лога
	}

	s.lines = append(s.lines, line)
	if len(s.lines) > domain.MaxLogLines {
		s.lines = s.lines[len(s.lines)-domain.MaxLogLines:]
	}

	var statusEv stream.Event
	if counted {
		statusEv = s.statusEventLocked()
	}
	s.mu.Unlock()

	s.broadcaster.Publish(stream.Event{Type: stream.EventLog, Line: line})
	if counted {
		s.broadcaster.Publish(statusEv)
	}
}

// FeedChunk скармливает чанк stdout extractor'а: собирает строки
// и применяет каждую. Для discover-режима чанк дополнительно
// аккумулируется как каталог.
func (s *RunState) FeedChunk(chunk []byte) {
	if s.run.Mode == domain.RunModeDiscover {
		s.mu.Lock()
		s.catalog.Write(chunk)
		s.mu.Unlock()
		return
	}
	for _, line := range s.splitter.Feed(chunk) {
		s.ApplyLine(line, false)
	}
}

// Flush обрабатывает удержанный хвост при закрытии потока.
func (s *RunState) Flush() {
	if line, ok := s.splitter.Flush(); ok {
		s.ApplyLine(line, false)
	}
}

// AppendMarker добавляет маркерную строку в лог и рассылает её.
func (s *RunState) AppendMarker(line string) {
	s.ApplyLine(line, false)
}

// FinalizeCatalog разбирает накопленный discover-вывод: сохраняет
// каталог и считает объявленные streams.
func (s *RunState) FinalizeCatalog() {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := bytes.TrimSpace(s.catalog.Bytes())
	if len(raw) == 0 {
		return
	}
	s.run.Catalog = json.RawMessage(raw)

	var doc struct {
		Streams []json.RawMessage `json:"streams"`
	}
	if err := json.Unmarshal(raw, &doc); err == nil {
		s.run.StreamsDiscovered = len(doc.Streams)
	}
}

// Snapshot возвращает консистентную копию run'а с живыми счётчиками
// и склеенным логом.
func (s *RunState) Snapshot() domain.Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run := *s.run
	run.Log = strings.Join(s.lines, "\n")
	if s.run.SampleRecords != nil {
		samples := make(map[string][]json.RawMessage, len(s.run.SampleRecords))
		for stream, records := range s.run.SampleRecords {
			samples[stream] = append([]json.RawMessage(nil), records...)
		}
		run.SampleRecords = samples
	}
	return run
}

// TerminalEvent строит терминальное событие по текущему состоянию.
func (s *RunState) TerminalEvent() stream.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return stream.Event{
		Type:              stream.EventComplete,
		Status:            string(s.run.Status),
		RecordsSynced:     s.run.RecordsSynced,
		StreamsDiscovered: s.run.StreamsDiscovered,
		Message:           s.run.Error,
	}
}

// sampleLocked добавляет запись в сэмплы stream'а, если лимит не достигнут.
// Запись сверх лимита выпадает из сэмплов, но остаётся в счётчике и логе.
func (s *RunState) sampleLocked(streamName string, record json.RawMessage) {
	if streamName == "" || len(record) == 0 {
		return
	}
	if s.run.SampleRecords == nil {
		s.run.SampleRecords = make(map[string][]json.RawMessage)
	}
	if len(s.run.SampleRecords[streamName]) >= domain.MaxSamplePerStream {
		return
	}
	s.run.SampleRecords[streamName] = append(s.run.SampleRecords[streamName], record)
}

// statusEventLocked строит снапшот статуса. Вызывается под мьютексом.
func (s *RunState) statusEventLocked() stream.Event {
	return stream.Event{
		Type:              stream.EventStatus,
		Status:            string(s.run.Status),
		RecordsSynced:     s.run.RecordsSynced,
		StreamsDiscovered: s.run.StreamsDiscovered,
	}
}
