package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    zerolog.Level
		wantErr bool
	}{
		{"", zerolog.InfoLevel, false},
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"error", zerolog.ErrorLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Options{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}

	logger.Debug().Msg("hidden")
	logger.Info().Str(FieldEvent, "capture.started").Int(FieldJob, 2).Msg("capture started")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected a single JSON line, got %q: %v", buf.String(), err)
	}
	if line[FieldEvent] != "capture.started" {
		t.Errorf("event = %v", line[FieldEvent])
	}
	if line["message"] != "capture started" {
		t.Errorf("message = %v", line["message"])
	}
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(Options{Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestOpenFileCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "nested", "streamgrab.log")

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile() error: %v", err)
	}
	f.WriteString("line\n")
	f.Close()

	// appends rather than truncating
	f, err = OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString("line\n")
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil || string(data) != "line\nline\n" {
		t.Errorf("log file = %q, %v", data, err)
	}
}
