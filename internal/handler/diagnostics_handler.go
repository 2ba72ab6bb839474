package handler

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/punksapien/studio-sub003/internal/authlog"
	"github.com/punksapien/studio-sub003/internal/breaker"
	"github.com/punksapien/studio-sub003/internal/ratelimit"
)

// diagnosticsKeyHeader は内部診断エンドポイントの認可ヘッダー名。
const diagnosticsKeyHeader = "X-Diagnostics-Key"

// DiagnosticsHandler は内部診断用のHTTPハンドラー。
// ブレーカー状態・レート制限エントリ・直近エラー・直近メトリクスを公開する。
// 外部には公開せず、診断キーを知る運用経路のみが使用する。
type DiagnosticsHandler struct {
	key      string
	breakers *breaker.Registry
	limiter  *ratelimit.Limiter
	recorder *authlog.Recorder
}

// NewDiagnosticsHandler はDiagnosticsHandlerを生成する。
func NewDiagnosticsHandler(key string, breakers *breaker.Registry, limiter *ratelimit.Limiter, recorder *authlog.Recorder) *DiagnosticsHandler {
	return &DiagnosticsHandler{
		key:      key,
		breakers: breakers,
		limiter:  limiter,
		recorder: recorder,
	}
}

// authorize は診断キーを検証する。キー未設定の場合は全て拒否する。
func (h *DiagnosticsHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	presented := r.Header.Get(diagnosticsKeyHeader)
	if h.key == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(h.key)) != 1 {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Breakers は全サーキットブレーカーの状態を返す。
// GET /internal/diagnostics/breakers
func (h *DiagnosticsHandler) Breakers(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	writeJSON(w, h.breakers.Status())
}

// RateLimit は現在のレート制限エントリを返す。
// GET /internal/diagnostics/ratelimit
func (h *DiagnosticsHandler) RateLimit(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	stats, err := h.limiter.Stats(r.Context())
	if err != nil {
		http.Error(w, "failed to collect rate limit stats", http.StatusInternalServerError)
		return
	}
	writeJSON(w, stats)
}

// Errors は直近の認証エラーを新しい順で返す。
// GET /internal/diagnostics/errors
func (h *DiagnosticsHandler) Errors(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	writeJSON(w, h.recorder.RecentErrors())
}

// Metrics は直近の認証メトリクスを新しい順で返す。
// GET /internal/diagnostics/metrics
func (h *DiagnosticsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	writeJSON(w, h.recorder.RecentMetrics())
}
