package middleware

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/punksapien/studio-sub003/internal/authlog"
)

// NewRecoveryMiddleware はpanic発生時にプロセスクラッシュを防ぎ、
// 500レスポンスを返すミドルウェアを生成する。
// panicの詳細は相関ID付きでログと直近エラーバッファに記録する。
func NewRecoveryMiddleware(recorder *authlog.Recorder) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					correlationID := CorrelationIDFromContext(r.Context())
					if correlationID == "" {
						correlationID = authlog.NewCorrelationID()
					}
					slog.Error("panic recovered",
						slog.String("correlation_id", correlationID),
						slog.Any("panic", rec),
						slog.String("method", r.Method),
						slog.String("path", r.URL.Path),
						slog.String("stack", string(debug.Stack())),
					)
					if recorder != nil {
						recorder.RecordError(correlationID, r.Method+" "+r.URL.Path, "PANIC", "panic recovered")
					}
					WriteInternalServerError(w)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}
