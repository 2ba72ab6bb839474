// Package model はドメインモデルを定義する。
package model

import "fmt"

// AuthErrorType は認証コアのエラー分類を表す。
// 呼び出し側はこの型で分岐し、例外処理を使わずに結果を判定する。
type AuthErrorType string

const (
	// ErrTypeUnauthenticated は資格情報が無い・無効な場合。再ログインで回復可能。
	ErrTypeUnauthenticated AuthErrorType = "UNAUTHENTICATED"
	// ErrTypeServiceDegraded はサーキットブレーカーがOPENの場合。バックオフ後の再試行で回復可能。
	ErrTypeServiceDegraded AuthErrorType = "SERVICE_DEGRADED"
	// ErrTypeProfileNotFound は有効なIDに対応するプロフィールが解決できない場合。
	ErrTypeProfileNotFound AuthErrorType = "PROFILE_NOT_FOUND"
	// ErrTypeRateLimited はレート制限超過。resetTimeまで待機が必要。
	ErrTypeRateLimited AuthErrorType = "RATE_LIMITED"
	// ErrTypeValidation は入力不正。再試行しても回復しない。
	ErrTypeValidation AuthErrorType = "VALIDATION_ERROR"
	// ErrTypeInternal は予期しない失敗。詳細はログのみに記録する。
	ErrTypeInternal AuthErrorType = "INTERNAL_ERROR"
)

// AuthError は認証コアの統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type AuthError struct {
	Type     AuthErrorType // エラー分類
	Code     string        // エラーコード
	Message  string        // エラーメッセージ
	Category string        // カテゴリ: auth, validation, system
	Action   string        // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *AuthError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// NewUnauthenticatedError は資格情報なし・無効エラーを生成する。
func NewUnauthenticatedError() *AuthError {
	return &AuthError{
		Type:     ErrTypeUnauthenticated,
		Code:     "UNAUTHENTICATED",
		Message:  "認証されていません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewServiceDegradedError はブレーカーOPEN時のエラーを生成する。
// 内部依存先の名前はユーザー向けメッセージに含めない。
func NewServiceDegradedError() *AuthError {
	return &AuthError{
		Type:     ErrTypeServiceDegraded,
		Code:     "SERVICE_DEGRADED",
		Message:  "現在サービスが混み合っています。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。再ログインは不要です。",
	}
}

// NewProfileNotFoundError はプロフィール未解決エラーを生成する。
// アカウント列挙を防ぐため、メールアドレスの存在有無は含めない。
func NewProfileNotFoundError() *AuthError {
	return &AuthError{
		Type:     ErrTypeProfileNotFound,
		Code:     "PROFILE_NOT_FOUND",
		Message:  "アカウント情報を確認できませんでした。",
		Category: "auth",
		Action:   "登録が完了しているか確認するか、サポートにお問い合わせください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
// messageにはルールごとに設定された文言を渡す。
func NewRateLimitedError(message string) *AuthError {
	if message == "" {
		message = "リクエストが多すぎます。"
	}
	return &AuthError{
		Type:     ErrTypeRateLimited,
		Code:     "RATE_LIMITED",
		Message:  message,
		Category: "system",
		Action:   "表示された時間まで待ってから再度お試しください。",
	}
}

// NewValidationError は入力不正エラーを生成する。
func NewValidationError(message string) *AuthError {
	return &AuthError{
		Type:     ErrTypeValidation,
		Code:     "VALIDATION_ERROR",
		Message:  message,
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *AuthError {
	return &AuthError{
		Type:     ErrTypeInternal,
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
