// Package verification は検証トークンの発行とクールダウン計算を提供する。
package verification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/punksapien/studio-sub003/internal/model"
	"github.com/punksapien/studio-sub003/internal/repository"
)

// TokenType は検証トークンの用途を表す。
type TokenType string

const (
	// TypeRegister は新規登録時のメール確認用。
	TypeRegister TokenType = "register"
	// TypeEmailChange はメールアドレス変更の確認用。
	TypeEmailChange TokenType = "email_change"
	// TypeLogin はマジックリンクログイン用。
	TypeLogin TokenType = "login"
)

// Options はトークン発行のオプション。
type Options struct {
	Type       TokenType
	RedirectTo string        // 確認後のリダイレクト先
	ExpiresIn  time.Duration // 0の場合はデフォルト有効期間
}

// Claims は検証トークンのJWTクレーム。
type Claims struct {
	Email      string `json:"email"`
	TokenType  string `json:"token_type"`
	RedirectTo string `json:"redirect_to,omitempty"`
	jwt.RegisteredClaims
}

// Issuer は短命の検証トークンを発行する。
// トークンは概念上1回限り有効であり、消費済み管理は外部ストアの責務。
type Issuer struct {
	secret        []byte
	defaultExpiry time.Duration
	profiles      repository.ProfileRepository
	logger        *slog.Logger
	nowFn         func() time.Time
}

// NewIssuer はIssuerを生成する。
func NewIssuer(secret string, defaultExpiry time.Duration, profiles repository.ProfileRepository, logger *slog.Logger) *Issuer {
	if defaultExpiry <= 0 {
		defaultExpiry = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{
		secret:        []byte(secret),
		defaultExpiry: defaultExpiry,
		profiles:      profiles,
		logger:        logger,
		nowFn:         time.Now,
	}
}

// Generate はHS256署名付きの検証トークンを発行する。
// アカウント列挙を防ぐため、未知のメールアドレスでも成功する。
// プロフィールが検証待ちでない場合は警告ログのみ出力する。
func (i *Issuer) Generate(ctx context.Context, email string, opts Options) (string, error) {
	switch opts.Type {
	case TypeRegister, TypeEmailChange, TypeLogin:
		// ok
	default:
		return "", fmt.Errorf("invalid verification token type: %q", opts.Type)
	}

	i.warnIfNotPending(ctx, email)

	expiresIn := opts.ExpiresIn
	if expiresIn <= 0 {
		expiresIn = i.defaultExpiry
	}

	now := i.nowFn()
	claims := Claims{
		Email:      email,
		TokenType:  string(opts.Type),
		RedirectTo: opts.RedirectTo,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign verification token: %w", err)
	}
	return signed, nil
}

// Verify はトークンを検証し、クレームを返す。
// 期限切れ・署名不正はエラーを返す。
func (i *Issuer) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(i.nowFn))
	if err != nil {
		return nil, fmt.Errorf("invalid verification token: %w", err)
	}
	return claims, nil
}

// warnIfNotPending はメールに対応するプロフィールが検証待ちでない場合に
// 警告を出力する。検索失敗や未知のメールでも発行は止めない。
func (i *Issuer) warnIfNotPending(ctx context.Context, email string) {
	if i.profiles == nil {
		return
	}
	profile, err := i.profiles.FindByEmail(ctx, email)
	if err != nil {
		i.logger.Warn("profile lookup failed during token generation",
			slog.String("error", err.Error()),
		)
		return
	}
	if profile == nil {
		i.logger.Warn("verification token requested for unknown email")
		return
	}
	if profile.VerificationStatus != model.VerificationStatusPending {
		i.logger.Warn("verification token requested for profile not pending verification",
			slog.String("profile_id", profile.ID),
			slog.String("verification_status", profile.VerificationStatus),
		)
	}
}
