package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/talentstrike/internal/model"
)

// 企業名・作成者名・応募数を結合した求人のSELECT句
const jobSelect = `
	SELECT j.id, COALESCE(j.company_id::text, ''), j.title, j.description, j.department,
	       j.location, j.employment_type, j.status, j.priority, COALESCE(j.created_by::text, ''),
	       j.created_at, j.updated_at,
	       COALESCE(c.name, ''), COALESCE(p.full_name, ''),
	       (SELECT COUNT(*) FROM applications a WHERE a.job_id = j.id)
	FROM jobs j
	LEFT JOIN companies c ON c.id = j.company_id
	LEFT JOIN user_profiles p ON p.id = j.created_by`

// PostgresJobRepo はPostgreSQLを使用した求人リポジトリ。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

func scanJob(row rowScanner) (*model.Job, error) {
	j := &model.Job{}
	err := row.Scan(
		&j.ID, &j.CompanyID, &j.Title, &j.Description, &j.Department,
		&j.Location, &j.EmploymentType, &j.Status, &j.Priority, &j.CreatedBy,
		&j.CreatedAt, &j.UpdatedAt,
		&j.CompanyName, &j.CreatedByName, &j.ApplicationsCount,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// buildJobListQuery は求人一覧のクエリと引数を組み立てる。
func buildJobListQuery(filter model.JobFilter) (string, []interface{}) {
	var conds conditions
	if filter.Status != "" {
		conds.add("j.status = $%d", string(filter.Status))
	}
	if filter.Department != "" {
		conds.add("j.department = $%d", filter.Department)
	}
	if filter.Priority != "" {
		conds.add("j.priority = $%d", string(filter.Priority))
	}
	return jobSelect + conds.where() + " ORDER BY j.created_at DESC", conds.args
}

// List は求人を作成日時の降順で返す。
func (r *PostgresJobRepo) List(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	query, args := buildJobListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("求人のスキャンに失敗しました: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("求人一覧の走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindByID(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, jobSelect+` WHERE j.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	return j, nil
}

// Create は求人を作成する。
func (r *PostgresJobRepo) Create(ctx context.Context, job *model.Job) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO jobs (id, company_id, title, description, department, location,
		                   employment_type, status, priority, created_by, created_at, updated_at)
		 VALUES ($1, NULLIF($2, '')::uuid, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, '')::uuid, $11, $12)`,
		job.ID, job.CompanyID, job.Title, job.Description, job.Department, job.Location,
		job.EmploymentType, string(job.Status), string(job.Priority), job.CreatedBy,
		job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("求人の作成に失敗しました: %w", err)
	}
	return nil
}

// Update はnil以外のフィールドだけを更新し、更新後の求人を返す。
// 見つからない場合はnilを返す。
func (r *PostgresJobRepo) Update(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	var status, priority *string
	if update.Status != nil {
		s := string(*update.Status)
		status = &s
	}
	if update.Priority != nil {
		p := string(*update.Priority)
		priority = &p
	}

	var updatedID string
	err := r.db.QueryRowContext(ctx,
		`UPDATE jobs SET
		     title       = COALESCE($2, title),
		     description = COALESCE($3, description),
		     department  = COALESCE($4, department),
		     location    = COALESCE($5, location),
		     status      = COALESCE($6, status),
		     priority    = COALESCE($7, priority),
		     updated_at  = now()
		 WHERE id = $1
		 RETURNING id`,
		id, update.Title, update.Description, update.Department, update.Location, status, priority,
	).Scan(&updatedID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("求人の更新に失敗しました: %w", err)
	}
	return r.FindByID(ctx, updatedID)
}

// compile-time interface check
var _ JobRepository = (*PostgresJobRepo)(nil)
