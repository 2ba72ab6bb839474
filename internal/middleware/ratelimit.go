package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/punksapien/studio-sub003/internal/metrics"
	"github.com/punksapien/studio-sub003/internal/model"
	"github.com/punksapien/studio-sub003/internal/ratelimit"
)

// NewRateLimitMiddleware は指定ルールによるレート制限ミドルウェアを返す。
// クライアントIPを識別子として使用し、許可・拒否を問わず
// X-RateLimit-*ヘッダーを設定する。拒否時は429と統一エラーを返す。
// ストア障害時はフェイルオープンし、制限せずに通過させる。
func NewRateLimitMiddleware(limiter *ratelimit.Limiter, ruleName string, collector metrics.MetricsCollector, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identifier := ClientIP(r)

			res, err := limiter.Check(r.Context(), identifier, ruleName)
			if err != nil {
				// ストア障害でサービス全体を止めない。制限なしで通す
				logger.Error("rate limit check failed",
					slog.String("rule", ruleName),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			ratelimit.SetHeaders(w, res, time.Now())

			if !res.Allowed {
				logger.Warn("rate limit exceeded",
					slog.String("rule", ruleName),
					slog.String("identifier", identifier),
				)
				if collector != nil {
					collector.RecordRateLimited(ruleName)
				}
				WriteErrorResponse(w, model.NewRateLimitedError(res.Message))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP はリクエスト元のクライアントIPを返す。
// リバースプロキシ背後ではX-Forwarded-Forの先頭エントリを優先する。
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, found := strings.Cut(xff, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
