package protocol

import (
	"testing"

	"github.com/shaiso/Conveyor/internal/domain"
)

// --- Splitter Tests ---

func TestSplitter_SingleLine(t *testing.T) {
	s := &Splitter{}

	lines := s.Feed([]byte("hello\n"))

	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0] != "hello" {
		t.Errorf("expected 'hello', got %q", lines[0])
	}
}

func TestSplitter_PartialLineAcrossChunks(t *testing.T) {
	s := &Splitter{}

	lines := s.Feed([]byte(`{"type":"REC`))
	if len(lines) != 0 {
		t.Fatalf("expected no lines from partial chunk, got %d", len(lines))
	}

	lines = s.Feed([]byte("ORD\"}\nnext"))
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0] != `{"type":"RECORD"}` {
		t.Errorf("reassembled line mismatch: %q", lines[0])
	}

	lines = s.Feed([]byte(" line\n"))
	if len(lines) != 1 || lines[0] != "next line" {
		t.Errorf("expected 'next line', got %v", lines)
	}
}

func TestSplitter_MultipleLinesInOneChunk(t *testing.T) {
	s := &Splitter{}

	lines := s.Feed([]byte("one\ntwo\nthree\n"))

	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[0] != "one" || lines[1] != "two" || lines[2] != "three" {
		t.Errorf("unexpected lines: %v", lines)
	}
}

func TestSplitter_CRLF(t *testing.T) {
	s := &Splitter{}

	lines := s.Feed([]byte("one\r\ntwo\r\n"))

	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "one" || lines[1] != "two" {
		t.Errorf("CR should be stripped: %v", lines)
	}
}

func TestSplitter_Flush(t *testing.T) {
	s := &Splitter{}

	s.Feed([]byte("complete\npartial"))

	line, ok := s.Flush()
	if !ok {
		t.Fatal("expected retained partial line")
	}
	if line != "partial" {
		t.Errorf("expected 'partial', got %q", line)
	}

	// Повторный Flush пустой
	if _, ok := s.Flush(); ok {
		t.Error("second flush should return nothing")
	}
}

func TestSplitter_FlushEmpty(t *testing.T) {
	s := &Splitter{}

	s.Feed([]byte("complete\n"))

	if _, ok := s.Flush(); ok {
		t.Error("flush after complete line should return nothing")
	}
}

// --- Classify Tests ---

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		line string
		kind domain.MessageKind
	}{
		{"record", `{"type":"RECORD","stream":"users","record":{"id":1}}`, domain.KindRecord},
		{"schema", `{"type":"SCHEMA","stream":"users","schema":{}}`, domain.KindSchema},
		{"state", `{"type":"STATE","value":{"bookmarks":{}}}`, domain.KindCheckpoint},
		{"unknown type", `{"type":"ACTIVATE_VERSION"}`, domain.KindOpaque},
		{"no type", `{"stream":"users"}`, domain.KindOpaque},
		{"not json", `INFO fetching page 3`, domain.KindOpaque},
		{"broken json", `{"type":"RECORD"`, domain.KindOpaque},
		{"empty", ``, domain.KindOpaque},
		{"whitespace", `   `, domain.KindOpaque},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := Classify(tt.line)
			if msg.Kind != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, msg.Kind)
			}
		})
	}
}

func TestClassify_RecordPayload(t *testing.T) {
	msg := Classify(`{"type":"RECORD","stream":"orders","record":{"id":42,"total":9.5}}`)

	if msg.Kind != domain.KindRecord {
		t.Fatalf("expected record, got %s", msg.Kind)
	}
	if msg.Stream != "orders" {
		t.Errorf("expected stream 'orders', got %q", msg.Stream)
	}
	if string(msg.Record) != `{"id":42,"total":9.5}` {
		t.Errorf("unexpected record payload: %s", msg.Record)
	}
}

func TestClassify_SchemaStream(t *testing.T) {
	msg := Classify(`{"type":"SCHEMA","stream":"users","schema":{"properties":{}}}`)

	if msg.Kind != domain.KindSchema {
		t.Fatalf("expected schema, got %s", msg.Kind)
	}
	if msg.Stream != "users" {
		t.Errorf("expected stream 'users', got %q", msg.Stream)
	}
}
