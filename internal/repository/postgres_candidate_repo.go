package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/talentstrike/internal/model"
)

const candidateSelect = `
	SELECT id, full_name, email, location, skills, experience_years,
	       credibility_score, strike_points, created_at
	FROM candidates`

// PostgresCandidateRepo はPostgreSQLを使用した候補者リポジトリ。
type PostgresCandidateRepo struct {
	db *sql.DB
}

// NewPostgresCandidateRepo はPostgresCandidateRepoを生成する。
func NewPostgresCandidateRepo(db *sql.DB) *PostgresCandidateRepo {
	return &PostgresCandidateRepo{db: db}
}

// buildCandidateListQuery は候補者一覧のクエリと引数を組み立てる。
// スキルは配列のoverlap（&&）で絞り込む。
func buildCandidateListQuery(filter model.CandidateFilter) (string, []interface{}) {
	var conds conditions
	if len(filter.Skills) > 0 {
		conds.add("skills && $%d", pq.Array(filter.Skills))
	}
	if filter.ExperienceMin > 0 {
		conds.add("experience_years >= $%d", filter.ExperienceMin)
	}
	return candidateSelect + conds.where() + " ORDER BY created_at DESC", conds.args
}

// List は候補者を作成日時の降順で返す。
func (r *PostgresCandidateRepo) List(ctx context.Context, filter model.CandidateFilter) ([]model.Candidate, error) {
	query, args := buildCandidateListQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("候補者一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(
			&c.ID, &c.FullName, &c.Email, &c.Location, pq.Array(&c.Skills),
			&c.ExperienceYears, &c.CredibilityScore, &c.StrikePoints, &c.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("候補者のスキャンに失敗しました: %w", err)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("候補者一覧の走査に失敗しました: %w", err)
	}
	return candidates, nil
}

// Create は候補者を作成する。
func (r *PostgresCandidateRepo) Create(ctx context.Context, c *model.Candidate) error {
	skills := c.Skills
	if skills == nil {
		skills = []string{}
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO candidates (id, full_name, email, location, skills, experience_years,
		                         credibility_score, strike_points, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.FullName, c.Email, c.Location, pq.Array(skills), c.ExperienceYears,
		c.CredibilityScore, c.StrikePoints, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("候補者の作成に失敗しました: %w", err)
	}
	return nil
}

// compile-time interface check
var _ CandidateRepository = (*PostgresCandidateRepo)(nil)
