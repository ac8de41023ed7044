package logging

import (
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"json stdout", Config{Level: "info", Format: "json", Output: "stdout"}},
		{"console stderr", Config{Level: "debug", Format: "console", Output: "stderr"}},
		{"invalid level falls back", Config{Level: "bogus", Format: "json", Output: "stdout"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := NewLogger(tt.cfg)
			if err != nil {
				t.Fatalf("NewLogger failed: %v", err)
			}
			if logger == nil {
				t.Fatal("expected logger, got nil")
			}
		})
	}
}

func TestLoggerChaining(t *testing.T) {
	logger, err := NewDefaultLogger()
	if err != nil {
		t.Fatal(err)
	}

	derived := logger.WithJobID("job-1").WithPlatform("youtube")
	if derived == nil {
		t.Fatal("expected derived logger")
	}
	if derived == logger {
		t.Error("derived logger should be a new instance")
	}
}
