package logger

import (
	"bytes"
	"strings"
	"testing"

	"buildings-export/internal/config"
)

func TestNewAddsServiceFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.Config{ServiceName: "buildings-export", InstanceID: "i-1", LogLevel: "info"}, &buf)
	l.Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"service":"buildings-export"`, `"instance":"i-1"`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("log line %q missing %s", out, want)
		}
	}
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(config.Config{LogLevel: "warn"}, &buf)
	l.Info().Msg("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info written at warn level: %q", buf.String())
	}
	l.Warn().Msg("kept")
	if !strings.Contains(buf.String(), "kept") {
		t.Fatalf("warn not written: %q", buf.String())
	}
}
