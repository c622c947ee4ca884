package logging

import (
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"", slog.LevelInfo, false},
		{"info", slog.LevelInfo, false},
		{"debug", slog.LevelDebug, false},
		{"warn", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"DEBUG", slog.LevelDebug, false},
		{"verbose", 0, true},
	}
	for _, tt := range tests {
		got, err := parseLevel(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("parseLevel(%q) should fail", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseLevel(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupRejectsUnknownFormat(t *testing.T) {
	if _, err := Setup(Options{Format: "xml"}); err == nil {
		t.Fatal("Setup() should reject unknown format")
	}
}

func TestSetupWithFileSink(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "chronicled.log")
	logger, err := Setup(Options{Level: "debug", Format: "json", File: logFile})
	if err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	if logger == nil {
		t.Fatal("Setup() returned nil logger")
	}
	logger.Info("hello", "k", "v")
}

func TestComponentAddsAttr(t *testing.T) {
	if _, err := Setup(Options{}); err != nil {
		t.Fatalf("Setup() failed: %v", err)
	}
	c := Component("tagger")
	if c == nil {
		t.Fatal("Component() returned nil")
	}
}
