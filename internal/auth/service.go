// Package auth は認証オーケストレーターを提供する。
// 資格情報の検証とプロフィール解決を、依存先ごとのサーキットブレーカーと
// 相関ID付きロギングの配下で実行し、統一された結果型を返す。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/punksapien/studio-sub003/internal/authlog"
	"github.com/punksapien/studio-sub003/internal/breaker"
	"github.com/punksapien/studio-sub003/internal/identity"
	"github.com/punksapien/studio-sub003/internal/metrics"
	"github.com/punksapien/studio-sub003/internal/model"
	"github.com/punksapien/studio-sub003/internal/repository"
)

// ブレーカーで保護する依存先の名前。
const (
	BreakerIdentityProvider = "identity-provider"
	BreakerProfileStore     = "profile-store"
)

// CorrelationIDHeader はリクエスト側から相関IDを引き継ぐヘッダー名。
const CorrelationIDHeader = "X-Correlation-ID"

// defaultTimeout は外部呼び出し全体のデフォルトタイムアウト。
const defaultTimeout = 5 * time.Second

// Service は1リクエスト分の認証フローを調停する。
// 資格情報抽出 → ID検証 → プロフィール解決の順で進み、
// どの段階で失敗しても分類済みのAuthenticationResultを返す。
type Service struct {
	provider  identity.Provider
	profiles  repository.ProfileRepository
	breakers  *breaker.Registry
	recorder  *authlog.Recorder
	collector metrics.MetricsCollector
	logger    *slog.Logger
	timeout   time.Duration
}

// NewService はServiceを生成する。collectorはnil可（メトリクス無効）。
// recorderがnilの場合は既定容量のRecorderを内部で生成する。
func NewService(
	provider identity.Provider,
	profiles repository.ProfileRepository,
	breakers *breaker.Registry,
	recorder *authlog.Recorder,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = authlog.NewRecorder(logger, 0)
	}
	return &Service{
		provider:  provider,
		profiles:  profiles,
		breakers:  breakers,
		recorder:  recorder,
		collector: collector,
		logger:    logger,
		timeout:   timeout,
	}
}

// Authenticate はHTTPリクエストから資格情報を取り出して認証を実行する。
// 資格情報が無い場合は外部呼び出しを一切行わずに失敗を返す。
func (s *Service) Authenticate(r *http.Request) model.AuthenticationResult {
	start := time.Now()
	correlationID := CorrelationIDFromRequest(r)

	// 1. 資格情報の抽出。資格情報なしは日常的な匿名アクセスであり、
	// デバッグログとメトリクスのみ記録する（エラーバッファは汚さない）
	token := extractCredential(r)
	if token == "" {
		s.logger.Debug("no credential presented",
			slog.String("correlation_id", correlationID),
		)
		return s.finishQuiet(correlationID, start, model.FailureResult(model.NewUnauthenticatedError()))
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	// 2. IDプロバイダーによる資格情報の検証
	user, err := s.verifyCredential(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, breaker.ErrOpen):
			return s.finish(correlationID, start, model.FailureResult(model.NewServiceDegradedError()))
		case errors.Is(err, identity.ErrInvalidCredential):
			return s.finish(correlationID, start, model.FailureResult(model.NewUnauthenticatedError()))
		default:
			s.logger.Error("credential verification failed",
				slog.String("correlation_id", correlationID),
				slog.String("error", err.Error()),
			)
			return s.finish(correlationID, start, model.FailureResult(model.NewInternalError()))
		}
	}

	// 3. リカバリ戦略によるプロフィール解決
	profile, err := s.resolveProfile(ctx, correlationID, user)
	if err != nil {
		if errors.Is(err, breaker.ErrOpen) {
			return s.finish(correlationID, start, model.FailureResult(model.NewServiceDegradedError()))
		}
		s.logger.Error("profile resolution failed",
			slog.String("correlation_id", correlationID),
			slog.String("error", err.Error()),
		)
		return s.finish(correlationID, start, model.FailureResult(model.NewInternalError()))
	}
	if profile == nil {
		return s.finish(correlationID, start, model.FailureResult(model.NewProfileNotFoundError()))
	}

	return s.finish(correlationID, start, model.SuccessResult(user, profile))
}

// verifyCredential はブレーカー配下でトークンを検証する。
// 無効な資格情報は業務エラーとして失敗カウントから除外する。
func (s *Service) verifyCredential(ctx context.Context, token string) (*model.UserIdentity, error) {
	var user *model.UserIdentity
	err := s.breakers.Execute(ctx, BreakerIdentityProvider, func(ctx context.Context) error {
		u, err := s.provider.VerifyCredential(ctx, token)
		if errors.Is(err, identity.ErrInvalidCredential) {
			return breaker.Ignore(err)
		}
		if err != nil {
			return err
		}
		user = u
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

// resolveProfile はブレーカー配下でリカバリ戦略を順に試す。
// 全戦略が外れた場合は(nil, nil)を返す。
func (s *Service) resolveProfile(ctx context.Context, correlationID string, user *model.UserIdentity) (*model.ProfileRecord, error) {
	var profile *model.ProfileRecord
	err := s.breakers.Execute(ctx, BreakerProfileStore, func(ctx context.Context) error {
		p, err := s.runRecoveryStrategies(ctx, correlationID, user)
		if err != nil {
			return err
		}
		profile = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// runRecoveryStrategies はプロフィール解決の戦略を定義順に実行する。
// 最初に成功した戦略の結果を採用する。
//  1. IDによる直接検索
//  2. メールアドレス検索 + IDの引き継ぎ
//  3. ID情報からの冪等な新規作成
func (s *Service) runRecoveryStrategies(ctx context.Context, correlationID string, user *model.UserIdentity) (*model.ProfileRecord, error) {
	// 1. IDによる直接検索
	p, err := s.profiles.FindByID(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if p != nil {
		s.logger.Debug("profile resolved",
			slog.String("correlation_id", correlationID),
			slog.String("strategy", "by_id"),
		)
		return p, nil
	}

	// 2. メールアドレス検索。ヒットした場合はIDプロバイダー側のIDを正として引き継ぐ。
	// 既存行のIDを付け替える（複製すると旧IDの行が残り、1対1対応が壊れる）
	p, err = s.profiles.FindByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if p != nil {
		if p.ID == user.ID {
			s.logger.Debug("profile resolved",
				slog.String("correlation_id", correlationID),
				slog.String("strategy", "by_email"),
			)
			return p, nil
		}
		rekeyed, err := s.profiles.UpdateID(ctx, p.ID, user.ID)
		if err != nil {
			return nil, err
		}
		if rekeyed != nil {
			s.logger.Info("profile id backfilled",
				slog.String("correlation_id", correlationID),
				slog.String("profile_id", rekeyed.ID),
			)
			return rekeyed, nil
		}
		// 検索と付け替えの間に行が消えた場合は作成戦略に委ねる
	}

	// 3. ID情報からの新規作成。IDをキーにアップサートするため再実行しても重複しない
	created, err := s.profiles.Upsert(ctx, newDefaultProfile(user))
	if err != nil {
		return nil, err
	}
	if created == nil {
		return nil, nil
	}
	s.logger.Info("profile created on demand",
		slog.String("correlation_id", correlationID),
		slog.String("profile_id", created.ID),
		slog.String("strategy", "create"),
	)
	return created, nil
}

// newDefaultProfile はID情報から初期プロフィールを組み立てる。
func newDefaultProfile(user *model.UserIdentity) *model.ProfileRecord {
	status := model.VerificationStatusAnonymous
	if user.EmailConfirmedAt != nil {
		status = model.VerificationStatusPending
	}
	return &model.ProfileRecord{
		ID:                 user.ID,
		Email:              user.Email,
		Role:               model.RoleBuyer,
		VerificationStatus: status,
		EmailNotifications: true,
	}
}

// finish は結果をログ・メトリクスに記録して返す。
func (s *Service) finish(correlationID string, start time.Time, result model.AuthenticationResult) model.AuthenticationResult {
	if !result.Success {
		s.recorder.RecordError(correlationID, "authenticate", string(result.Error.Type), result.Error.Message)
	}
	return s.finishQuiet(correlationID, start, result)
}

// finishQuiet はメトリクスのみ記録して結果を返す。
// 資格情報なしのように想定内の失敗で使用する。
func (s *Service) finishQuiet(correlationID string, start time.Time, result model.AuthenticationResult) model.AuthenticationResult {
	duration := time.Since(start)

	outcome := "success"
	if !result.Success {
		outcome = string(result.Error.Type)
	}
	s.recorder.RecordMetric(correlationID, "authenticate", outcome, duration)

	if s.collector != nil {
		s.collector.RecordAuthAttempt(outcome)
		s.collector.RecordAuthLatency(duration)
	}
	return result
}

// CorrelationIDFromRequest はリクエストヘッダーの相関IDを返す。
// 未指定の場合は新規に生成する。
func CorrelationIDFromRequest(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	return authlog.NewCorrelationID()
}

// extractCredential はAuthorizationヘッダーまたはaccess_tokenクッキーから
// ベアラートークンを取り出す。どちらにも無い場合は空文字を返す。
func extractCredential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie("access_token"); err == nil && c.Value != "" {
		return c.Value
	}
	return ""
}
