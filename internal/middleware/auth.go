// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/punksapien/studio-sub003/internal/auth"
	"github.com/punksapien/studio-sub003/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// correlationIDContextKey はリクエストコンテキストに相関IDを格納するためのキー。
	correlationIDContextKey = contextKey("correlation_id")
)

// Authenticator は認証フローの実行に必要なインターフェース。
// auth.Serviceの部分集合として定義する。
type Authenticator interface {
	Authenticate(r *http.Request) model.AuthenticationResult
}

// NewRequireAuthMiddleware は認証を必須とするミドルウェアを返す。
// 認証済みユーザーIDと相関IDをリクエストコンテキストに注入し、
// 失敗時は分類に応じたステータスコードで統一エラーレスポンスを返す。
func NewRequireAuthMiddleware(authenticator Authenticator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			correlationID := auth.CorrelationIDFromRequest(r)
			w.Header().Set(auth.CorrelationIDHeader, correlationID)
			r = r.WithContext(ContextWithCorrelationID(r.Context(), correlationID))
			r.Header.Set(auth.CorrelationIDHeader, correlationID)

			result := authenticator.Authenticate(r)
			if !result.Success {
				WriteErrorResponse(w, result.Error)
				return
			}

			ctx := ContextWithUserID(r.Context(), result.User.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// 認証ミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// CorrelationIDFromContext はリクエストコンテキストから相関IDを取得する。
// 未設定の場合は空文字を返す。
func CorrelationIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDContextKey).(string)
	return id
}

// ContextWithCorrelationID はコンテキストに相関IDを注入する。
func ContextWithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDContextKey, correlationID)
}
