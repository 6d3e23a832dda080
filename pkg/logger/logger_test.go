package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInit_AppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agent.log")

	log, closeFn := Init("info", path)
	log.Info().Str("src", "10.0.0.1:9").Msg("Packet ignored")
	log.Debug().Msg("hidden at info level")
	closeFn()

	log, closeFn = Init("info", path)
	log.Warn().Msg("UDP listener stopped")
	closeFn()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)

	if !strings.Contains(out, "Packet ignored") || !strings.Contains(out, "src=10.0.0.1:9") {
		t.Errorf("missing first entry:\n%s", out)
	}
	if !strings.Contains(out, "UDP listener stopped") {
		t.Errorf("second run did not append:\n%s", out)
	}
	if strings.Contains(out, "hidden at info level") {
		t.Error("debug entry written at info level")
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("log file contains colour escapes")
	}
	if n := strings.Count(out, "\n"); n != 2 {
		t.Errorf("expected 2 lines, got %d:\n%s", n, out)
	}
}

func TestInit_UnwritablePathKeepsLogging(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	if err := os.WriteFile(blocker, nil, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	log, closeFn := Init("info", filepath.Join(blocker, "agent.log"))
	defer closeFn()
	log.Info().Msg("still works")
}
