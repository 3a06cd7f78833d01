package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/talentstrike/internal/model"
)

const profileColumns = `id, email, full_name, role, department, avatar_url, phone, is_active, created_at, updated_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProfile(row rowScanner) (*model.UserProfile, error) {
	p := &model.UserProfile{}
	err := row.Scan(
		&p.ID, &p.Email, &p.FullName, &p.Role, &p.Department,
		&p.AvatarURL, &p.Phone, &p.IsActive, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// GetProfile は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`,
		userID,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return p, nil
}

// UpdateProfile はnil以外のフィールドだけを更新し、更新後の行を返す。
// 見つからない場合はnilを返す。
func (r *PostgresProfileRepo) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error) {
	p, err := scanProfile(r.db.QueryRowContext(ctx,
		`UPDATE user_profiles SET
		     full_name  = COALESCE($2, full_name),
		     department = COALESCE($3, department),
		     avatar_url = COALESCE($4, avatar_url),
		     phone      = COALESCE($5, phone),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING `+profileColumns,
		userID, update.FullName, update.Department, update.AvatarURL, update.Phone,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// ListProfiles は有効なプロフィールをfull_name順で返す。roleが空の場合は全ロール。
func (r *PostgresProfileRepo) ListProfiles(ctx context.Context, role model.Role) ([]model.UserProfile, error) {
	conds := conditions{clauses: []string{"is_active = true"}}
	if role != "" {
		conds.add("role = $%d", string(role))
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles`+conds.where()+` ORDER BY full_name`,
		conds.args...,
	)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var profiles []model.UserProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("プロフィールのスキャンに失敗しました: %w", err)
		}
		profiles = append(profiles, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("プロフィール一覧の走査に失敗しました: %w", err)
	}
	return profiles, nil
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
