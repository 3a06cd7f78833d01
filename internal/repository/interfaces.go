// Package repository はデータ永続化のインターフェースとPostgreSQL実装を定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
)

// ProfileRepository はuser_profilesの永続化インターフェース。
type ProfileRepository interface {
	// GetProfile は指定ユーザーのプロフィールを取得する。見つからない場合はnilを返す。
	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)

	// UpdateProfile はnil以外のフィールドだけを更新し、更新後の行を返す。
	// 見つからない場合はnilを返す。
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.UserProfile, error)

	// ListProfiles は有効なプロフィールをfull_name順で返す。roleが空の場合は全ロール。
	ListProfiles(ctx context.Context, role model.Role) ([]model.UserProfile, error)
}

// AuthSessionRepository は認証プロバイダーのセッションをブラウザセッションキーごとに保存する。
type AuthSessionRepository interface {
	// Load は保存済みセッションを返す。見つからない場合はnilを返す。
	Load(ctx context.Context, key string) (*model.AuthSession, error)

	// Save はセッションをUPSERTする。
	Save(ctx context.Context, key string, session *model.AuthSession) error

	// Remove はセッションを削除する。
	Remove(ctx context.Context, key string) error

	// DeleteStale はbefore以前に更新されたセッションを削除し、削除件数を返す。
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// JobRepository は求人の永続化インターフェース。
type JobRepository interface {
	// List は求人を作成日時の降順で返す。企業名・作成者名・応募数を含む。
	List(ctx context.Context, filter model.JobFilter) ([]model.Job, error)

	// FindByID は指定IDの求人を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Job, error)

	// Create は求人を作成する。
	Create(ctx context.Context, job *model.Job) error

	// Update はnil以外のフィールドだけを更新し、更新後の求人を返す。
	// 見つからない場合はnilを返す。
	Update(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error)
}

// CompanyRepository は企業の永続化インターフェース。
type CompanyRepository interface {
	// ListActive は有効な企業を名前順で返す。
	ListActive(ctx context.Context) ([]model.Company, error)

	// FindByID は指定IDの企業を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Company, error)
}

// ApplicationRepository は応募の永続化インターフェース。
type ApplicationRepository interface {
	// List は応募を作成日時の降順で返す。求人名・候補者名・担当リクルーター名を含む。
	List(ctx context.Context, filter model.ApplicationFilter) ([]model.Application, error)

	// FindByID は指定IDの応募を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Application, error)

	// UpdateStatus は選考段階を更新する。notesがnilの場合はメモを変更しない。
	// 見つからない場合はnilを返す。
	UpdateStatus(ctx context.Context, id string, status model.ApplicationStatus, notes *string) (*model.Application, error)

	// CountByStatus は条件に一致する応募数を選考段階ごとに返す。
	CountByStatus(ctx context.Context, filter model.ApplicationCountFilter) (map[model.ApplicationStatus]int, error)
}

// CandidateRepository は候補者の永続化インターフェース。
type CandidateRepository interface {
	// List は候補者を作成日時の降順で返す。
	// filter.Skillsはいずれかのスキルを持つ候補者に一致する。
	List(ctx context.Context, filter model.CandidateFilter) ([]model.Candidate, error)

	// Create は候補者を作成する。
	Create(ctx context.Context, candidate *model.Candidate) error
}

// MetricsRepository は採用指標と日次集計の永続化インターフェース。
type MetricsRepository interface {
	// ListRecruitmentMetrics は採用指標をmetric_dateの降順で返す。
	ListRecruitmentMetrics(ctx context.Context, filter model.MetricFilter) ([]model.RecruitmentMetric, error)

	// ListDailyAnalytics はsince以降の日次集計を日付の昇順で返す。
	ListDailyAnalytics(ctx context.Context, since time.Time) ([]model.DailyAnalytics, error)

	// ListRecruiterPerformance はリクルーター実績をmetric_periodの降順で返す。
	ListRecruiterPerformance(ctx context.Context, filter model.PerformanceFilter) ([]model.RecruiterPerformance, error)

	// RollupDailyAnalytics は指定日の日次集計をapplications/candidatesから再計算してUPSERTする。
	RollupDailyAnalytics(ctx context.Context, day time.Time) error

	// RollupRecruiterPerformance は[from, to)に作成された応募から
	// periodのリクルーター実績を再計算してUPSERTし、更新件数を返す。
	RollupRecruiterPerformance(ctx context.Context, period string, from, to time.Time) (int64, error)
}
