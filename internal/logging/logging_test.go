package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestNewNonTerminalWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.InfoLevel)
	log.Info().Str("task_id", "a").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"task_id":"a"`) {
		t.Fatalf("expected JSON field in output, got %q", out)
	}
	if !strings.Contains(out, `"message":"hello"`) {
		t.Fatalf("expected message field in output, got %q", out)
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, zerolog.WarnLevel)
	log.Info().Msg("suppressed")
	log.Warn().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "suppressed") {
		t.Fatalf("expected info line to be suppressed, got %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("expected warn line to appear, got %q", out)
	}
}

func TestLevelFromString(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want zerolog.Level
	}{
		{"empty defaults to info", "", zerolog.InfoLevel},
		{"unrecognized defaults to info", "not-a-level", zerolog.InfoLevel},
		{"debug", "debug", zerolog.DebugLevel},
		{"warn", "warn", zerolog.WarnLevel},
		{"error", "error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LevelFromString(tt.in); got != tt.want {
				t.Errorf("LevelFromString(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}
