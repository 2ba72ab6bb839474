// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/punksapien/studio-sub003/internal/middleware"
	"github.com/punksapien/studio-sub003/internal/model"
	"github.com/punksapien/studio-sub003/internal/repository"
	"github.com/punksapien/studio-sub003/internal/verification"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Authenticate(r *http.Request) model.AuthenticationResult
}

// TokenIssuerInterface は検証トークン発行に必要なインターフェース。
type TokenIssuerInterface interface {
	Generate(ctx context.Context, email string, opts verification.Options) (string, error)
}

// AuthHandler は認証関連のHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	issuer   TokenIssuerInterface
	cooldown *verification.Cooldown
	profiles repository.ProfileRepository
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, issuer TokenIssuerInterface, cooldown *verification.Cooldown, profiles repository.ProfileRepository) *AuthHandler {
	return &AuthHandler{
		service:  service,
		issuer:   issuer,
		cooldown: cooldown,
		profiles: profiles,
	}
}

// Me は現在の認証状態とプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	result := h.service.Authenticate(r)
	if !result.Success {
		middleware.WriteErrorResponse(w, result.Error)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user": map[string]any{
			"id":    result.User.ID,
			"email": result.User.Email,
		},
		"profile": map[string]any{
			"id":                  result.Profile.ID,
			"email":               result.Profile.Email,
			"role":                result.Profile.Role,
			"verification_status": result.Profile.VerificationStatus,
			"onboarding_done":     result.Profile.OnboardingDone,
		},
	})
}

// verificationTokenRequest はPOST /auth/verification-tokenのリクエストボディ。
type verificationTokenRequest struct {
	Email      string `json:"email"`
	Type       string `json:"type"`
	RedirectTo string `json:"redirect_to"`
}

// VerificationToken は検証トークンを発行する。
// POST /auth/verification-token
//
// アカウント列挙を防ぐため、未知のメールアドレスでも成功レスポンスを返す。
// 既知のプロフィールがクールダウン中の場合のみ429を返す。
func (h *AuthHandler) VerificationToken(w http.ResponseWriter, r *http.Request) {
	var req verificationTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("リクエストボディが不正です。"))
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		middleware.WriteErrorResponse(w, model.NewValidationError("メールアドレスの形式が不正です。"))
		return
	}

	// クールダウン判定。プロフィール検索の失敗で発行を止めない
	profile, err := h.profiles.FindByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Warn("profile lookup failed during verification request",
			slog.String("error", err.Error()),
		)
		profile = nil
	}
	if profile != nil && h.cooldown.IsActive(profile.LastVerificationRequestAt) {
		remaining := h.cooldown.RemainingSeconds(profile.LastVerificationRequestAt)
		w.Header().Set("Retry-After", strconv.Itoa(remaining))
		middleware.WriteErrorResponse(w, model.NewRateLimitedError("確認メールは一定時間に1回まで送信できます。"))
		return
	}

	token, err := h.issuer.Generate(r.Context(), req.Email, verification.Options{
		Type:       verification.TokenType(req.Type),
		RedirectTo: req.RedirectTo,
	})
	if err != nil {
		middleware.WriteErrorResponse(w, model.NewValidationError("トークン種別が不正です。"))
		return
	}

	if profile != nil {
		if err := h.profiles.SetLastVerificationRequest(r.Context(), profile.ID, time.Now()); err != nil {
			slog.Error("failed to record verification request time",
				slog.String("profile_id", profile.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"token": token,
	})
}
