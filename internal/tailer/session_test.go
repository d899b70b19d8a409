package tailer

import (
	"testing"
	"time"

	"github.com/engramd/engramd/internal/config"
)

func testTailerConfig() config.TailerConfig {
	return config.TailerConfig{
		BatchThreshold: 8,
		IdleDebounce:   45 * time.Second,
		StartupSettle:  60 * time.Second,
		RecollectTopK:  5,
	}
}

func TestShouldTriggerBatchZeroMessagesNeverTriggers(t *testing.T) {
	if shouldTriggerBatch(0, time.Now(), testTailerConfig(), time.Now()) {
		t.Fatal("expected no trigger with zero pending messages")
	}
}

func TestShouldTriggerBatchThresholdReached(t *testing.T) {
	cfg := testTailerConfig()
	now := time.Now()
	if !shouldTriggerBatch(cfg.BatchThreshold, now, cfg, now) {
		t.Fatal("expected trigger once message count reaches the threshold")
	}
}

func TestShouldTriggerBatchIdleDebounceElapsed(t *testing.T) {
	cfg := testTailerConfig()
	lastAppend := time.Now().Add(-cfg.IdleDebounce)
	now := time.Now()
	if !shouldTriggerBatch(1, lastAppend, cfg, now) {
		t.Fatal("expected trigger once idle debounce has elapsed")
	}
}

func TestShouldTriggerBatchBelowThresholdAndNotIdle(t *testing.T) {
	cfg := testTailerConfig()
	now := time.Now()
	if shouldTriggerBatch(1, now, cfg, now) {
		t.Fatal("expected no trigger below threshold and before idle debounce")
	}
}

func TestSettledRespectsStartupWindow(t *testing.T) {
	started := time.Now()
	tr := &Tailer{cfg: &config.Config{Tailer: testTailerConfig()}, startedAt: started}
	if tr.settled(started.Add(1 * time.Second)) {
		t.Fatal("expected not settled immediately after startup")
	}
	if !tr.settled(started.Add(61 * time.Second)) {
		t.Fatal("expected settled once the startup-settle window has passed")
	}
}

func TestAppendUniquePathDedupes(t *testing.T) {
	paths := appendUniquePath(nil, "/a")
	paths = appendUniquePath(paths, "/b")
	paths = appendUniquePath(paths, "/a")
	if len(paths) != 2 {
		t.Fatalf("expected 2 unique paths, got %v", paths)
	}
}
