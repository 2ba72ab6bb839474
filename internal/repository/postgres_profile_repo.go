package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/punksapien/studio-sub003/internal/model"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

const profileColumns = `id, email, role, verification_status, email_notifications, onboarding_done, last_verification_request_at, created_at, updated_at`

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.ProfileRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE id = $1`,
		id,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}
	return profile, nil
}

// FindByEmail はメールアドレスでプロフィールを検索する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByEmail(ctx context.Context, email string) (*model.ProfileRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE email = $1`,
		email,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by email: %w", err)
	}
	return profile, nil
}

// Upsert はプロフィールをIDをキーに作成または更新する。
// 同一IDに対する再実行でレコードが重複しないよう、ON CONFLICTで吸収する。
func (r *PostgresProfileRepo) Upsert(ctx context.Context, profile *model.ProfileRecord) (*model.ProfileRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO profiles (id, email, role, verification_status, email_notifications, onboarding_done, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   email = EXCLUDED.email,
		   role = EXCLUDED.role,
		   verification_status = EXCLUDED.verification_status,
		   email_notifications = EXCLUDED.email_notifications,
		   onboarding_done = EXCLUDED.onboarding_done,
		   updated_at = NOW()
		 RETURNING `+profileColumns,
		profile.ID, profile.Email, profile.Role, profile.VerificationStatus,
		profile.EmailNotifications, profile.OnboardingDone,
	)
	saved, err := scanProfile(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert profile: %w", err)
	}
	return saved, nil
}

// UpdateID は既存レコードのIDを付け替える。
// メール検索でヒットした行にIDプロバイダー側のIDを引き継ぐ際に使用する。
// INSERTではなくUPDATEで付け替えるため、旧IDの行が残ることはない。
func (r *PostgresProfileRepo) UpdateID(ctx context.Context, oldID, newID string) (*model.ProfileRecord, error) {
	row := r.db.QueryRowContext(ctx,
		`UPDATE profiles SET id = $1, updated_at = NOW() WHERE id = $2
		 RETURNING `+profileColumns,
		newID, oldID,
	)
	profile, err := scanProfile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile ID: %w", err)
	}
	return profile, nil
}

// SetLastVerificationRequest は最後に検証トークンを要求した日時を記録する。
func (r *PostgresProfileRepo) SetLastVerificationRequest(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE profiles SET last_verification_request_at = $1, updated_at = $2 WHERE id = $3`,
		at, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update last verification request: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("profile not found: %s", id)
	}
	return nil
}

// scanProfile は1行をProfileRecordに読み取る。
func scanProfile(row *sql.Row) (*model.ProfileRecord, error) {
	profile := &model.ProfileRecord{}
	var lastVerification sql.NullTime
	err := row.Scan(
		&profile.ID, &profile.Email, &profile.Role, &profile.VerificationStatus,
		&profile.EmailNotifications, &profile.OnboardingDone,
		&lastVerification, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if lastVerification.Valid {
		profile.LastVerificationRequestAt = &lastVerification.Time
	}
	return profile, nil
}
