package daemon

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthSnapshotReflectsRecordedCounters(t *testing.T) {
	h := NewHealth(time.Now().Add(-5 * time.Second))
	h.SetSessionCount(3)
	h.RecordEmbedFailure()
	h.RecordHTTP429()
	h.RecordHTTP429()

	report := h.Snapshot()
	if report.SessionCount != 3 {
		t.Fatalf("SessionCount = %d, want 3", report.SessionCount)
	}
	if report.EmbedFailures != 1 {
		t.Fatalf("EmbedFailures = %d, want 1", report.EmbedFailures)
	}
	if report.HTTP429Count != 2 {
		t.Fatalf("HTTP429Count = %d, want 2", report.HTTP429Count)
	}
	if report.UptimeSeconds < 5 {
		t.Fatalf("UptimeSeconds = %d, want >= 5", report.UptimeSeconds)
	}
	if report.RSS == "" {
		t.Fatal("expected a non-empty humanized RSS string")
	}
}

func TestHealthHandlerServesHealthAndMetrics(t *testing.T) {
	h := NewHealth(time.Now())
	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health status = %d, want 200", resp.StatusCode)
	}

	resp2, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", resp2.StatusCode)
	}
}
