package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/talentstrike/internal/model"
)

// 求人・候補者・担当リクルーターを結合した応募のSELECT句
const applicationSelect = `
	SELECT a.id, a.job_id, a.candidate_id, a.status, COALESCE(a.assigned_recruiter::text, ''),
	       a.notes, a.created_at, a.updated_at,
	       COALESCE(j.title, ''), COALESCE(j.department, ''),
	       COALESCE(c.full_name, ''), COALESCE(p.full_name, '')
	FROM applications a
	LEFT JOIN jobs j ON j.id = a.job_id
	LEFT JOIN candidates c ON c.id = a.candidate_id
	LEFT JOIN user_profiles p ON p.id = a.assigned_recruiter`

// PostgresApplicationRepo はPostgreSQLを使用した応募リポジトリ。
type PostgresApplicationRepo struct {
	db *sql.DB
}

// NewPostgresApplicationRepo はPostgresApplicationRepoを生成する。
func NewPostgresApplicationRepo(db *sql.DB) *PostgresApplicationRepo {
	return &PostgresApplicationRepo{db: db}
}

func scanApplication(row rowScanner) (*model.Application, error) {
	a := &model.Application{}
	err := row.Scan(
		&a.ID, &a.JobID, &a.CandidateID, &a.Status, &a.AssignedRecruiter,
		&a.Notes, &a.CreatedAt, &a.UpdatedAt,
		&a.JobTitle, &a.JobDepartment, &a.CandidateName, &a.RecruiterName,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// buildApplicationListQuery は応募一覧のクエリと引数を組み立てる。
func buildApplicationListQuery(filter model.ApplicationFilter) (string, []interface{}) {
	var conds conditions
	if filter.Status != "" {
		conds.add("a.status = $%d", string(filter.Status))
	}
	if filter.JobID != "" {
		conds.add("a.job_id = $%d", filter.JobID)
	}
	if filter.RecruiterID != "" {
		conds.add("a.assigned_recruiter = $%d", filter.RecruiterID)
	}
	return applicationSelect + conds.where() + " ORDER BY a.created_at DESC", conds.args
}

// List は応募を作成日時の降順で返す。
func (r *PostgresApplicationRepo) List(ctx context.Context, filter model.ApplicationFilter) ([]model.Application, error) {
	query, args := buildApplicationListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var apps []model.Application
	for rows.Next() {
		a, err := scanApplication(rows)
		if err != nil {
			return nil, fmt.Errorf("応募のスキャンに失敗しました: %w", err)
		}
		apps = append(apps, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("応募一覧の走査に失敗しました: %w", err)
	}
	return apps, nil
}

// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) FindByID(ctx context.Context, id string) (*model.Application, error) {
	a, err := scanApplication(r.db.QueryRowContext(ctx, applicationSelect+` WHERE a.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募の取得に失敗しました: %w", err)
	}
	return a, nil
}

// UpdateStatus は選考段階を更新する。notesがnilの場合はメモを変更しない。
// 見つからない場合はnilを返す。
func (r *PostgresApplicationRepo) UpdateStatus(ctx context.Context, id string, status model.ApplicationStatus, notes *string) (*model.Application, error) {
	var updatedID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE applications SET
		     status     = $2,
		     notes      = COALESCE($3, notes),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING id`,
		id, string(status), notes,
	).Scan(&updatedID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("応募ステータスの更新に失敗しました: %w", err)
	}
	return r.FindByID(ctx, updatedID)
}

// buildCountByStatusQuery は段階別応募数のクエリと引数を組み立てる。
func buildCountByStatusQuery(filter model.ApplicationCountFilter) (string, []interface{}) {
	var conds conditions
	if !filter.Since.IsZero() {
		conds.add("a.created_at >= $%d", filter.Since)
	}
	if filter.Department != "" {
		conds.add("j.department = $%d", filter.Department)
	}
	if filter.Location != "" {
		conds.add("j.location = $%d", filter.Location)
	}
	query := `SELECT a.status, COUNT(*) FROM applications a JOIN jobs j ON j.id = a.job_id` +
		conds.where() + ` GROUP BY a.status`
	return query, conds.args
}

// CountByStatus は条件に一致する応募数を選考段階ごとに返す。
func (r *PostgresApplicationRepo) CountByStatus(ctx context.Context, filter model.ApplicationCountFilter) (map[model.ApplicationStatus]int, error) {
	query, args := buildCountByStatusQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count applications by status: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ApplicationStatus]int)
	for rows.Next() {
		var status model.ApplicationStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan application count: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate application counts: %w", err)
	}
	return counts, nil
}

// compile-time interface check
var _ ApplicationRepository = (*PostgresApplicationRepo)(nil)
