package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/shaiso/Conveyor/internal/domain"
)

// Splitter собирает сырые чанки байт в законченные строки.
//
// Контракт: Feed добавляет чанк к удержанному остатку, отдаёт все
// законченные строки и удерживает незавершённый хвост до следующего
// чанка. Flush отдаёт хвост как финальную строку при закрытии потока.
type Splitter struct {
	rest []byte
}

// Feed добавляет чанк и возвращает законченные строки.
// Разделитель — \n, завершающий \r отрезается (CRLF-вывод tap'ов под Windows).
func (s *Splitter) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}

	data := append(s.rest, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		line := data[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		lines = append(lines, string(line))
		data = data[idx+1:]
	}

	s.rest = append([]byte(nil), data...)
	return lines
}

// Flush возвращает удержанный хвост как последнюю строку.
// Вызывается при закрытии stdout extractor'а: последняя строка может
// прийти без завершающего \n.
func (s *Splitter) Flush() (string, bool) {
	if len(s.rest) == 0 {
		return "", false
	}
	line := string(s.rest)
	s.rest = nil
	return line, true
}

// Message — классифицированная строка протокола.
type Message struct {
	// Kind — классификация строки.
	Kind domain.MessageKind

	// Stream — имя stream'а (для record и schema).
	Stream string

	// Record — payload записи (только для record).
	Record json.RawMessage
}

// envelope — минимальная форма протокольного сообщения для классификации.
// Содержимое сообщений оркестратор не интерпретирует.
type envelope struct {
	Type   string          `json:"type"`
	Stream string          `json:"stream"`
	Record json.RawMessage `json:"record"`
}

// Classify определяет тип протокольного сообщения по строке.
// Любая строка, не являющаяся валидным JSON с известным полем type,
// классифицируется как opaque — это не ошибка.
func Classify(line string) Message {
	trimmed := bytes.TrimSpace([]byte(line))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Message{Kind: domain.KindOpaque}
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Message{Kind: domain.KindOpaque}
	}

	switch env.Type {
	case "RECORD":
		return Message{Kind: domain.KindRecord, Stream: env.Stream, Record: env.Record}
	case "SCHEMA":
		return Message{Kind: domain.KindSchema, Stream: env.Stream}
	case "STATE":
		return Message{Kind: domain.KindCheckpoint}
	default:
		return Message{Kind: domain.KindOpaque}
	}
}
