package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"go.uber.org/zap/zapcore"
)

func TestGetReturnsNamedLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetRoot(zap.New(core))
	defer SetRoot(zap.NewNop())

	Get(CategoryJobs).Infof("job %s started", "j1")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].LoggerName != "jobs" {
		t.Errorf("expected logger name 'jobs', got %q", entries[0].LoggerName)
	}
	if entries[0].Message != "job j1 started" {
		t.Errorf("unexpected message: %q", entries[0].Message)
	}
}

func TestGetCachesPerCategory(t *testing.T) {
	SetRoot(zap.NewNop())
	a := Get(CategoryScan)
	b := Get(CategoryScan)
	if a != b {
		t.Error("expected the same logger instance for one category")
	}
}
