package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/punksapien/studio-sub003/internal/model"
)

// HTTPProviderConfig はHTTPProviderの設定。
type HTTPProviderConfig struct {
	// BaseURL はIDプロバイダーAPIのベースURL。
	BaseURL string
	// ServiceKey は管理APIの認証に使用するサービスキー。
	ServiceKey string
	// AdminRate は管理API（一覧取得等）の呼び出しレート（req/sec）。
	AdminRate float64
}

// HTTPProvider はREST APIを持つIDプロバイダーのクライアント。
// タイムアウトはhttpClientに設定されたものに従い、呼び出しは
// コンテキストで打ち切れる。管理APIはレートリミッターで呼び出しを均す。
type HTTPProvider struct {
	httpClient *http.Client
	logger     *slog.Logger
	config     HTTPProviderConfig
	adminLim   *rate.Limiter
}

// NewHTTPProvider はHTTPProviderを生成する。
func NewHTTPProvider(httpClient *http.Client, logger *slog.Logger, config HTTPProviderConfig) *HTTPProvider {
	if logger == nil {
		logger = slog.Default()
	}
	adminRate := config.AdminRate
	if adminRate <= 0 {
		adminRate = 2.0
	}
	return &HTTPProvider{
		httpClient: httpClient,
		logger:     logger,
		config:     config,
		adminLim:   rate.NewLimiter(rate.Limit(adminRate), 1),
	}
}

// identityPayload はプロバイダーのユーザー表現。
type identityPayload struct {
	ID               string     `json:"id"`
	Email            string     `json:"email"`
	EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
}

func (p identityPayload) toModel() model.UserIdentity {
	return model.UserIdentity{
		ID:               p.ID,
		Email:            p.Email,
		EmailConfirmedAt: p.EmailConfirmedAt,
	}
}

// VerifyCredential はベアラートークンを検証し、対応するIDを返す。
// 401/403はErrInvalidCredential、5xxおよびトランスポート障害はインフラ
// エラーとして返す（呼び出し側のブレーカー分類に対応する）。
func (p *HTTPProvider) VerifyCredential(ctx context.Context, token string) (*model.UserIdentity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", p.config.ServiceKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("identity provider request failed",
			slog.String("operation", "verify_credential"),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidCredential
	default:
		p.logger.Error("identity provider returned error status",
			slog.String("operation", "verify_credential"),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var payload identityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	user := payload.toModel()
	return &user, nil
}

// CreateIdentity は管理APIで新しいIDを作成する。
func (p *HTTPProvider) CreateIdentity(ctx context.Context, email, password string, metadata Metadata) (*model.UserIdentity, error) {
	body, err := json.Marshal(map[string]any{
		"email":         email,
		"password":      password,
		"email_confirm": true,
		"user_metadata": metadata,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/admin/users", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build create request: %w", err)
	}
	p.setAdminHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.logger.Error("identity provider request failed",
			slog.String("operation", "create_identity"),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		p.logger.Error("identity provider returned error status",
			slog.String("operation", "create_identity"),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var payload identityPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode identity response: %w", err)
	}
	user := payload.toModel()
	return &user, nil
}

// ListIdentities は管理APIで全IDの一覧を取得する。
// 診断・管理経路専用。レートリミッターで呼び出し頻度を均す。
func (p *HTTPProvider) ListIdentities(ctx context.Context) ([]model.UserIdentity, error) {
	if err := p.adminLim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("admin rate limit wait canceled: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.config.BaseURL+"/admin/users", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	p.setAdminHeaders(req)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read list response: %w", err)
	}

	var payload struct {
		Users []identityPayload `json:"users"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode list response: %w", err)
	}

	users := make([]model.UserIdentity, 0, len(payload.Users))
	for _, u := range payload.Users {
		users = append(users, u.toModel())
	}
	return users, nil
}

// setAdminHeaders は管理API用の認証ヘッダーを設定する。
func (p *HTTPProvider) setAdminHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.config.ServiceKey)
	req.Header.Set("apikey", p.config.ServiceKey)
}
