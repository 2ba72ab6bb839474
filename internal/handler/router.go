package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/punksapien/studio-sub003/internal/authlog"
	"github.com/punksapien/studio-sub003/internal/breaker"
	"github.com/punksapien/studio-sub003/internal/metrics"
	"github.com/punksapien/studio-sub003/internal/middleware"
	"github.com/punksapien/studio-sub003/internal/ratelimit"
	"github.com/punksapien/studio-sub003/internal/repository"
	"github.com/punksapien/studio-sub003/internal/verification"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	Recorder          *authlog.Recorder
	CORSAllowedOrigin string
	Limiter           *ratelimit.Limiter
	Collector         metrics.MetricsCollector

	// 認証
	AuthService AuthServiceInterface
	Issuer      TokenIssuerInterface
	Cooldown    *verification.Cooldown
	Profiles    repository.ProfileRepository

	// 運用面
	HealthChecker  HealthChecker
	Breakers       *breaker.Registry
	Gatherer       prometheus.Gatherer
	DiagnosticsKey string
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → SecurityHeaders → Recovery → Logging → (ルートごとのRateLimit)
//
// 認証はエンドポイントごとにオーケストレーターを通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewRecoveryMiddleware(deps.Recorder))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	authHandler := NewAuthHandler(deps.AuthService, deps.Issuer, deps.Cooldown, deps.Profiles)
	healthHandler := NewHealthHandler(deps.HealthChecker)
	diagHandler := NewDiagnosticsHandler(deps.DiagnosticsKey, deps.Breakers, deps.Limiter, deps.Recorder)

	// --- 運用エンドポイント ---
	r.Get("/healthz", healthHandler.Healthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	// --- 認証エンドポイント ---
	r.Route("/auth", func(r chi.Router) {
		// 認証状態の確認。IP単位のレート制限を適用
		r.With(middleware.NewRateLimitMiddleware(deps.Limiter, ratelimit.RuleAuthPerIP, deps.Collector, deps.Logger)).
			Get("/me", authHandler.Me)

		// 検証トークン発行。専用ルールでIP単位に制限
		r.With(middleware.NewRateLimitMiddleware(deps.Limiter, ratelimit.RuleVerification, deps.Collector, deps.Logger)).
			Post("/verification-token", authHandler.VerificationToken)
	})

	// --- 内部診断エンドポイント ---
	r.Route("/internal/diagnostics", func(r chi.Router) {
		r.Get("/breakers", diagHandler.Breakers)
		r.Get("/ratelimit", diagHandler.RateLimit)
		r.Get("/errors", diagHandler.Errors)
		r.Get("/metrics", diagHandler.Metrics)
	})

	return r
}
