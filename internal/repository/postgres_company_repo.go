package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/talentstrike/internal/model"
)

// PostgresCompanyRepo はPostgreSQLを使用した企業リポジトリ。
type PostgresCompanyRepo struct {
	db *sql.DB
}

// NewPostgresCompanyRepo はPostgresCompanyRepoを生成する。
func NewPostgresCompanyRepo(db *sql.DB) *PostgresCompanyRepo {
	return &PostgresCompanyRepo{db: db}
}

// ListActive は有効な企業を名前順で返す。
func (r *PostgresCompanyRepo) ListActive(ctx context.Context) ([]model.Company, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, logo_url, industry, is_active
		 FROM companies WHERE is_active = true ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("企業一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		if err := rows.Scan(&c.ID, &c.Name, &c.LogoURL, &c.Industry, &c.IsActive); err != nil {
			return nil, fmt.Errorf("企業のスキャンに失敗しました: %w", err)
		}
		companies = append(companies, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("企業一覧の走査に失敗しました: %w", err)
	}
	return companies, nil
}

// FindByID は指定IDの企業を取得する。見つからない場合はnilを返す。
func (r *PostgresCompanyRepo) FindByID(ctx context.Context, id string) (*model.Company, error) {
	c := &model.Company{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, logo_url, industry, is_active FROM companies WHERE id = $1`,
		id,
	).Scan(&c.ID, &c.Name, &c.LogoURL, &c.Industry, &c.IsActive)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("企業の取得に失敗しました: %w", err)
	}
	return c, nil
}

// compile-time interface check
var _ CompanyRepository = (*PostgresCompanyRepo)(nil)
