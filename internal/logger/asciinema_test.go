package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestRecorder_WritesHeaderAndEvents(t *testing.T) {
	var buf bytes.Buffer
	rec, err := NewRecorderWithWriter(&buf, 120, 40)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}

	if err := rec.WriteOutput([]byte("hello\r\n")); err != nil {
		t.Fatalf("failed to write output event: %v", err)
	}
	if err := rec.WriteInput([]byte("ls\n")); err != nil {
		t.Fatalf("failed to write input event: %v", err)
	}

	scanner := bufio.NewScanner(&buf)

	if !scanner.Scan() {
		t.Fatal("missing header line")
	}
	var header Header
	if err := json.Unmarshal(scanner.Bytes(), &header); err != nil {
		t.Fatalf("failed to parse header: %v", err)
	}
	if header.Version != 2 {
		t.Errorf("expected version 2, got %d", header.Version)
	}
	if header.Width != 120 || header.Height != 40 {
		t.Errorf("expected 120x40, got %dx%d", header.Width, header.Height)
	}
	if header.Timestamp == 0 {
		t.Error("expected a nonzero timestamp")
	}

	expected := []struct {
		eventType string
		data      string
	}{
		{"o", "hello\r\n"},
		{"i", "ls\n"},
	}
	var offsets []float64
	for i, want := range expected {
		if !scanner.Scan() {
			t.Fatalf("missing event line %d", i)
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			t.Fatalf("failed to parse event %d: %v", i, err)
		}
		if event.EventType != want.eventType {
			t.Errorf("event %d: expected type %q, got %q", i, want.eventType, event.EventType)
		}
		if event.Data != want.data {
			t.Errorf("event %d: expected data %q, got %q", i, want.data, event.Data)
		}
		if event.TimeOffset < 0 {
			t.Errorf("event %d: negative time offset %f", i, event.TimeOffset)
		}
		offsets = append(offsets, event.TimeOffset)
	}

	if len(offsets) == 2 && offsets[1] < offsets[0] {
		t.Error("event offsets must be monotonically non-decreasing")
	}
}

func TestEvent_MarshalFormat(t *testing.T) {
	event := Event{TimeOffset: 1.5, EventType: "o", Data: "x"}
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	if string(data) != `[1.5,"o","x"]` {
		t.Errorf("unexpected wire form: %s", data)
	}
}

func TestEvent_UnmarshalRejectsMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"too few elements", `[1.5,"o"]`},
		{"wrong offset type", `["late","o","x"]`},
		{"wrong event type", `[1.5,2,"x"]`},
		{"wrong data type", `[1.5,"o",3]`},
		{"not an array", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var event Event
			if err := json.Unmarshal([]byte(tt.input), &event); err == nil {
				t.Errorf("expected error for %s", tt.input)
			}
		})
	}
}

func TestRecorder_FileOwnership(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.cast")

	rec, err := NewRecorder(path, 80, 24)
	if err != nil {
		t.Fatalf("failed to create recorder: %v", err)
	}
	if err := rec.WriteOutput([]byte("out")); err != nil {
		t.Fatalf("failed to write output: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("failed to close recorder: %v", err)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read recording: %v", err)
	}
	lines := bytes.Split(bytes.TrimSpace(content), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected header + 1 event, got %d lines", len(lines))
	}
}
