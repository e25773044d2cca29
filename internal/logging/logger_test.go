package logging

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewBuildsBothModes(t *testing.T) {
	for _, env := range []string{"production", "development"} {
		logger, err := New("debug", env, "triage-test")
		if err != nil {
			t.Fatalf("New(%s) error = %v", env, err)
		}
		if !logger.Core().Enabled(zap.DebugLevel) {
			t.Fatalf("expected debug level enabled for %s", env)
		}
	}
}

func TestContextRoundTrip(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core).With(zap.String("request_id", "req-1"))

	ctx := WithContext(context.Background(), logger)
	FromContext(ctx).Info("hello")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("expected request_id field, got %v", entries[0].ContextMap())
	}
}

func TestFromContextFallsBackToGlobal(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Fatal("expected global logger")
	}
	if OrNop(nil) == nil {
		t.Fatal("expected nop logger")
	}
}
