package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatTime(t *testing.T) {
	if got := FormatTime("2026-08-24T10:30:00Z"); got != "2026-08-24 10:30:00" {
		t.Errorf("expected compact timestamp, got %q", got)
	}
	if got := FormatTime("2026-08-24T10:30:00.123456+02:00"); got != "2026-08-24 08:30:00" {
		t.Errorf("expected UTC normalization, got %q", got)
	}
	if got := FormatTime("not-a-time"); got != "not-a-time" {
		t.Errorf("invalid timestamp should pass through, got %q", got)
	}
	if got := FormatTime(""); got != "" {
		t.Errorf("empty timestamp should pass through, got %q", got)
	}
}

func TestDash(t *testing.T) {
	if got := Dash(""); got != "-" {
		t.Errorf("empty cell should render a dash, got %q", got)
	}
	if got := Dash("target-jsonl"); got != "target-jsonl" {
		t.Errorf("non-empty cell should pass through, got %q", got)
	}
}

func TestOutput_Table(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{w: &buf, errW: &buf}

	o.Print([]string{"ID", "NAME"}, [][]string{{"1", "crm"}}, nil)

	got := buf.String()
	if !strings.Contains(got, "ID") || !strings.Contains(got, "NAME") {
		t.Errorf("table should contain headers, got %q", got)
	}
	if !strings.Contains(got, "crm") {
		t.Errorf("table should contain row values, got %q", got)
	}
	if !strings.Contains(got, "--") {
		t.Errorf("table should contain a separator row, got %q", got)
	}
}

func TestOutput_JSONMode(t *testing.T) {
	var buf bytes.Buffer
	o := &Output{jsonMode: true, w: &buf}

	o.Print([]string{"ID"}, nil, map[string]string{"name": "crm"})

	if !strings.Contains(buf.String(), `"name": "crm"`) {
		t.Errorf("json mode should emit indented JSON, got %q", buf.String())
	}
}
