package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/provider"
)

// PostgresAuthSessionRepo はauth_sessionsテーブルに認証セッションを保存する。
// provider.SessionStorageとして認証クライアントに渡す。
type PostgresAuthSessionRepo struct {
	db *sql.DB
}

// NewPostgresAuthSessionRepo はPostgresAuthSessionRepoを生成する。
func NewPostgresAuthSessionRepo(db *sql.DB) *PostgresAuthSessionRepo {
	return &PostgresAuthSessionRepo{db: db}
}

// Load は保存済みセッションを返す。見つからない場合はnilを返す。
func (r *PostgresAuthSessionRepo) Load(ctx context.Context, key string) (*model.AuthSession, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT session FROM auth_sessions WHERE storage_key = $1`,
		key,
	).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load auth session: %w", err)
	}

	var session model.AuthSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("failed to decode auth session: %w", err)
	}
	return &session, nil
}

// Save はセッションをUPSERTする。
func (r *PostgresAuthSessionRepo) Save(ctx context.Context, key string, session *model.AuthSession) error {
	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode auth session: %w", err)
	}

	var userID sql.NullString
	if session.User != nil && session.User.ID != "" {
		userID = sql.NullString{String: session.User.ID, Valid: true}
	}
	var expiresAt sql.NullTime
	if !session.ExpiresAt.IsZero() {
		expiresAt = sql.NullTime{Time: session.ExpiresAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (storage_key, user_id, session, expires_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, now(), now())
		 ON CONFLICT (storage_key) DO UPDATE SET
		     user_id    = EXCLUDED.user_id,
		     session    = EXCLUDED.session,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		key, userID, data, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save auth session: %w", err)
	}
	return nil
}

// Remove はセッションを削除する。
func (r *PostgresAuthSessionRepo) Remove(ctx context.Context, key string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE storage_key = $1`,
		key,
	)
	if err != nil {
		return fmt.Errorf("failed to remove auth session: %w", err)
	}
	return nil
}

// DeleteStale はbefore以前に更新されたセッションを削除し、削除件数を返す。
func (r *PostgresAuthSessionRepo) DeleteStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM auth_sessions WHERE updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale auth sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted auth sessions: %w", err)
	}
	return n, nil
}

// compile-time interface check
var (
	_ AuthSessionRepository   = (*PostgresAuthSessionRepo)(nil)
	_ provider.SessionStorage = (*PostgresAuthSessionRepo)(nil)
)
