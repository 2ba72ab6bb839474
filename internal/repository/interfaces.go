// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/punksapien/studio-sub003/internal/model"
)

// ProfileRepository はプロフィールレコードの永続化インターフェース。
// レコードストア自体は外部コラボレーターであり、このコアは
// 検索・アップサートの細い契約のみに依存する。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.ProfileRecord, error)

	// FindByEmail はメールアドレスでプロフィールを検索する。見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.ProfileRecord, error)

	// Upsert はプロフィールをIDをキーに作成または更新する。
	// 同一IDに対して2回呼んでもレコードが重複しない（冪等）。
	Upsert(ctx context.Context, profile *model.ProfileRecord) (*model.ProfileRecord, error)

	// UpdateID は既存レコードのIDを付け替える。行の複製は行わない。
	// 旧IDの行が存在しない場合はnilを返す。
	UpdateID(ctx context.Context, oldID, newID string) (*model.ProfileRecord, error)

	// SetLastVerificationRequest は最後に検証トークンを要求した日時を記録する。
	SetLastVerificationRequest(ctx context.Context, id string, at time.Time) error
}
