// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/punksapien/studio-sub003/internal/auth"
	"github.com/punksapien/studio-sub003/internal/authlog"
	"github.com/punksapien/studio-sub003/internal/breaker"
	"github.com/punksapien/studio-sub003/internal/config"
	"github.com/punksapien/studio-sub003/internal/database"
	"github.com/punksapien/studio-sub003/internal/handler"
	"github.com/punksapien/studio-sub003/internal/identity"
	"github.com/punksapien/studio-sub003/internal/logger"
	"github.com/punksapien/studio-sub003/internal/metrics"
	"github.com/punksapien/studio-sub003/internal/ratelimit"
	"github.com/punksapien/studio-sub003/internal/repository"
	"github.com/punksapien/studio-sub003/internal/verification"
)

// Init はアプリケーションの初期化を行う。
// .envファイル（存在する場合）と環境変数からConfigを読み込み、
// JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. .envファイルの読み込み（ローカル開発用。無ければ環境変数のみ）
	if err := godotenv.Load(); err == nil {
		slog.Info("loaded .env file")
	}

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスと診断ログ
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	recorder := authlog.NewRecorder(slog.Default(), 0)

	// 3. サーキットブレーカー
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		ResetTimeout:     cfg.BreakerResetTimeout,
	}, slog.Default())
	breakers.SetStateListener(func(dependency string, to breaker.State) {
		collector.RecordBreakerState(dependency, string(to))
		collector.RecordBreakerTransition(dependency, string(to))
	})

	// 4. レート制限。REDIS_URL設定時はエントリをRedisで共有する
	store, err := buildRateLimitStore(cfg)
	if err != nil {
		return err
	}
	limiter, err := ratelimit.New(store, ratelimit.DefaultRules(
		cfg.RateLimitAuth,
		cfg.RateLimitAuthPerIP,
		cfg.RateLimitGeneral,
		cfg.RateLimitVerification,
	))
	if err != nil {
		return fmt.Errorf("failed to build rate limiter: %w", err)
	}

	// 5. IDプロバイダーとリポジトリ
	provider := identity.NewHTTPProvider(
		&http.Client{Timeout: cfg.IdentityTimeout},
		slog.Default(),
		identity.HTTPProviderConfig{
			BaseURL:    cfg.IdentityProviderURL,
			ServiceKey: cfg.IdentityServiceKey,
			AdminRate:  cfg.IdentityAdminRate,
		},
	)
	profileRepo := repository.NewPostgresProfileRepo(db)

	// 6. ドメインサービス
	authService := auth.NewService(
		provider, profileRepo, breakers, recorder, collector,
		slog.Default(), cfg.IdentityTimeout,
	)
	issuer := verification.NewIssuer(cfg.TokenSecret, cfg.TokenDefaultExpiry, profileRepo, slog.Default())
	cooldown := verification.NewCooldown(cfg.VerificationCooldown)

	// 7. ルーターの構築
	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Recorder:          recorder,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		Limiter:           limiter,
		Collector:         collector,

		AuthService: authService,
		Issuer:      issuer,
		Cooldown:    cooldown,
		Profiles:    profileRepo,

		HealthChecker:  db,
		Breakers:       breakers,
		Gatherer:       registry,
		DiagnosticsKey: cfg.DiagnosticsKey,
	})

	// 8. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// buildRateLimitStore はレート制限エントリの保存先を構築する。
// REDIS_URL未設定の場合はプロセス内メモリストアを使用する。
func buildRateLimitStore(cfg *config.Config) (ratelimit.Store, error) {
	if cfg.RedisURL == "" {
		return ratelimit.NewMemoryStore(), nil
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	store, err := ratelimit.NewRedisStore(redis.NewClient(opts))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis rate limit store: %w", err)
	}

	slog.Info("rate limit entries externalized to redis")
	return store, nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
