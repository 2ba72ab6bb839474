// Package identity は外部IDプロバイダーとの連携を提供する。
// 資格情報の検証・ID作成・ID一覧の取得を細い契約として定義し、
// プロバイダーの内部実装には依存しない。
package identity

import (
	"context"
	"errors"

	"github.com/punksapien/studio-sub003/internal/model"
)

// ErrInvalidCredential は資格情報が無効（期限切れ・失効を含む）であることを表す。
// インフラ障害ではないため、ブレーカーの失敗としては数えない。
var ErrInvalidCredential = errors.New("invalid credential")

// Metadata はID作成時にプロバイダーへ渡す任意の属性。
type Metadata map[string]any

// Provider は外部IDプロバイダーのインターフェース。
type Provider interface {
	// VerifyCredential はベアラートークンを検証し、対応するIDを返す。
	// トークンが無効な場合はErrInvalidCredentialを返す。
	VerifyCredential(ctx context.Context, token string) (*model.UserIdentity, error)

	// CreateIdentity は新しいIDを作成する。
	CreateIdentity(ctx context.Context, email, password string, metadata Metadata) (*model.UserIdentity, error)

	// ListIdentities は全IDの一覧を返す。
	// 診断・管理経路専用であり、認証のホットパスでは使用しない。
	ListIdentities(ctx context.Context) ([]model.UserIdentity, error)
}
