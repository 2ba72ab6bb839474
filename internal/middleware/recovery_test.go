package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/punksapien/studio-sub003/internal/authlog"
)

// panic発生時に500の統一エラーレスポンスが返ることを検証する。
func TestRecoveryMiddleware_RecoversPanic(t *testing.T) {
	recorder := authlog.NewRecorder(nil, 10)
	handler := NewRecoveryMiddleware(recorder)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Code != "INTERNAL_ERROR" {
		t.Errorf("body code = %s, want INTERNAL_ERROR", body.Code)
	}

	// 直近エラーバッファに相関ID付きで記録される
	errs := recorder.RecentErrors()
	if len(errs) != 1 {
		t.Fatalf("recorded errors = %d, want 1", len(errs))
	}
	if errs[0].ErrorType != "PANIC" {
		t.Errorf("error type = %s, want PANIC", errs[0].ErrorType)
	}
	if errs[0].CorrelationID == "" {
		t.Error("correlation id should be recorded")
	}
}

func TestRecoveryMiddleware_PassesThroughNormally(t *testing.T) {
	handler := NewRecoveryMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}
