package model

import "time"

// プロフィールのロール。
const (
	RoleBuyer  = "buyer"
	RoleSeller = "seller"
	RoleAdmin  = "admin"
)

// 検証ステータス。
const (
	VerificationStatusAnonymous = "anonymous"
	VerificationStatusPending   = "pending_verification"
	VerificationStatusVerified  = "verified"
	VerificationStatusRejected  = "rejected"
)

// UserIdentity は外部IDプロバイダーが所有するユーザーIDのスナップショットを表す。
// オーケストレーターは1リクエストの間だけ読み取り専用で保持する。
type UserIdentity struct {
	ID               string
	Email            string
	EmailConfirmedAt *time.Time // メール確認日時。未確認の場合はnil
}

// ProfileRecord はユーザーのプロフィールレコードを表す。
// UserIdentityとIDを共有し1対1で対応する。作成は初回認識時の
// リカバリ戦略が行い、このコアは削除しない。
type ProfileRecord struct {
	ID                        string // UserIdentity.IDと同一
	Email                     string
	Role                      string // buyer / seller / admin
	VerificationStatus        string
	EmailNotifications        bool       // メール通知の有効フラグ
	OnboardingDone            bool       // オンボーディング完了フラグ
	LastVerificationRequestAt *time.Time // 最後に検証トークンを要求した日時
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// IsValidRole はロールが定義済みの値かを返す。
func IsValidRole(role string) bool {
	switch role {
	case RoleBuyer, RoleSeller, RoleAdmin:
		return true
	}
	return false
}

// AuthenticationResult は1回の認証試行の結果を表す。
// 不変条件: Success=true ならUserとProfileの両方が非nil、
// Success=false ならErrorが非nil。リクエスト間で共有せず、返却後は変更しない。
type AuthenticationResult struct {
	Success bool
	User    *UserIdentity
	Profile *ProfileRecord
	Error   *AuthError
}

// SuccessResult は成功結果を生成する。
func SuccessResult(user *UserIdentity, profile *ProfileRecord) AuthenticationResult {
	return AuthenticationResult{
		Success: true,
		User:    user,
		Profile: profile,
	}
}

// FailureResult は失敗結果を生成する。
func FailureResult(err *AuthError) AuthenticationResult {
	return AuthenticationResult{
		Success: false,
		Error:   err,
	}
}
