package logging

import "testing"

func TestGetReturnsStableLoggerPerCategory(t *testing.T) {
	a := Get(CategoryStore)
	b := Get(CategoryStore)
	if a != b {
		t.Fatalf("expected Get to return the same *Logger instance for the same category")
	}
	c := Get(CategoryQueue)
	if a == c {
		t.Fatalf("expected distinct loggers for distinct categories")
	}
}

func TestInitializeSwapsBaseLogger(t *testing.T) {
	if err := Initialize(true); err != nil {
		t.Fatalf("Initialize returned error: %v", err)
	}
	Get(CategoryDaemon).Info("smoke test", "ok", true)
}

func TestTimerStopReturnsNonNegativeDuration(t *testing.T) {
	timer := StartTimer(CategoryWorker, "test-op")
	if d := timer.Stop(); d < 0 {
		t.Fatalf("expected non-negative duration, got %v", d)
	}
}
