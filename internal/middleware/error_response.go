package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/punksapien/studio-sub003/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// StatusForError はエラー分類に対応するHTTPステータスコードを返す。
func StatusForError(errType model.AuthErrorType) int {
	switch errType {
	case model.ErrTypeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrTypeServiceDegraded:
		return http.StatusServiceUnavailable
	case model.ErrTypeProfileNotFound:
		return http.StatusNotFound
	case model.ErrTypeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrTypeValidation:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// WriteErrorResponse は統一エラーフォーマットでHTTPエラーレスポンスを書き込む。
// すべてのAPIエンドポイントで一貫したエラーレスポンスを提供する。
func WriteErrorResponse(w http.ResponseWriter, authErr *model.AuthError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusForError(authErr.Type))
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     authErr.Code,
		Message:  authErr.Message,
		Category: authErr.Category,
		Action:   authErr.Action,
	})
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	WriteErrorResponse(w, model.NewInternalError())
}
