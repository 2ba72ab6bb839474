package authlog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func newTestRecorder(capacity int) (*Recorder, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return NewRecorder(logger, capacity), &buf
}

func TestNewCorrelationID_GeneratesUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewCorrelationID()
		if id == "" {
			t.Fatal("correlation ID should not be empty")
		}
		if seen[id] {
			t.Fatalf("duplicate correlation ID generated: %s", id)
		}
		seen[id] = true
	}
}

func TestRecordError_AppendsToBuffer(t *testing.T) {
	r, _ := newTestRecorder(10)

	r.RecordError("corr-1", "authenticate", "UNAUTHENTICATED", "no credential")

	errors := r.RecentErrors()
	if len(errors) != 1 {
		t.Fatalf("len(RecentErrors()) = %d, want 1", len(errors))
	}
	if errors[0].CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want %q", errors[0].CorrelationID, "corr-1")
	}
	if errors[0].ErrorType != "UNAUTHENTICATED" {
		t.Errorf("ErrorType = %q, want %q", errors[0].ErrorType, "UNAUTHENTICATED")
	}
}

func TestRecordError_EmitsStructuredLog(t *testing.T) {
	r, buf := newTestRecorder(10)

	r.RecordError("corr-2", "authenticate", "SERVICE_DEGRADED", "breaker open")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output should be valid JSON: %v", err)
	}
	if entry["correlation_id"] != "corr-2" {
		t.Errorf("correlation_id = %v, want %q", entry["correlation_id"], "corr-2")
	}
	if entry["error_type"] != "SERVICE_DEGRADED" {
		t.Errorf("error_type = %v, want %q", entry["error_type"], "SERVICE_DEGRADED")
	}
}

// バッファは容量で制限され、古いエントリから破棄されることを検証する。
func TestRecordError_PrunesOnCapacityBound(t *testing.T) {
	r, _ := newTestRecorder(5)

	for i := 0; i < 8; i++ {
		r.RecordError(fmt.Sprintf("corr-%d", i), "authenticate", "INTERNAL_ERROR", "boom")
	}

	errors := r.RecentErrors()
	if len(errors) != 5 {
		t.Fatalf("len(RecentErrors()) = %d, want 5", len(errors))
	}
	// 新しい順: 先頭は最後に記録したcorr-7
	if errors[0].CorrelationID != "corr-7" {
		t.Errorf("newest CorrelationID = %q, want %q", errors[0].CorrelationID, "corr-7")
	}
	// 最古のcorr-0〜corr-2は破棄されている
	for _, e := range errors {
		if e.CorrelationID == "corr-0" || e.CorrelationID == "corr-1" || e.CorrelationID == "corr-2" {
			t.Errorf("entry %s should have been pruned", e.CorrelationID)
		}
	}
}

func TestRecordMetric_AppendsAndPrunes(t *testing.T) {
	r, _ := newTestRecorder(3)

	for i := 0; i < 4; i++ {
		r.RecordMetric(fmt.Sprintf("corr-%d", i), "authenticate", "success", 10*time.Millisecond)
	}

	metrics := r.RecentMetrics()
	if len(metrics) != 3 {
		t.Fatalf("len(RecentMetrics()) = %d, want 3", len(metrics))
	}
	if metrics[0].CorrelationID != "corr-3" {
		t.Errorf("newest CorrelationID = %q, want %q", metrics[0].CorrelationID, "corr-3")
	}
	if metrics[0].Outcome != "success" {
		t.Errorf("Outcome = %q, want %q", metrics[0].Outcome, "success")
	}
}

func TestNewRecorder_ZeroCapacityUsesDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	r := NewRecorder(logger, 0)

	for i := 0; i < defaultCapacity+10; i++ {
		r.RecordError("corr", "op", "INTERNAL_ERROR", "x")
	}
	if got := len(r.RecentErrors()); got != defaultCapacity {
		t.Errorf("len(RecentErrors()) = %d, want %d", got, defaultCapacity)
	}
}

func TestRecentErrors_ReturnsCopy(t *testing.T) {
	r, _ := newTestRecorder(10)
	r.RecordError("corr-a", "authenticate", "UNAUTHENTICATED", "no credential")

	first := r.RecentErrors()
	first[0].CorrelationID = "mutated"

	second := r.RecentErrors()
	if second[0].CorrelationID != "corr-a" {
		t.Error("RecentErrors should return a copy, not the internal slice")
	}
	if strings.Contains(second[0].CorrelationID, "mutated") {
		t.Error("internal buffer was mutated through the returned slice")
	}
}
