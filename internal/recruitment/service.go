// Package recruitment は求人・応募・候補者・採用指標のドメインロジックを提供する。
package recruitment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/repository"
	"github.com/hitoshi/talentstrike/internal/security"
)

// Repositories はServiceが使うリポジトリ群。
type Repositories struct {
	Jobs         repository.JobRepository
	Companies    repository.CompanyRepository
	Applications repository.ApplicationRepository
	Candidates   repository.CandidateRepository
	Metrics      repository.MetricsRepository
	Profiles     repository.ProfileRepository
}

// Service は採用データの読み書きを行うサービス層。
// 入力検証と自由記述のサニタイズを行ってからリポジトリに委譲する。
type Service struct {
	repos     Repositories
	sanitizer security.Sanitizer
	now       func() time.Time
	newID     func() string
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repos Repositories, sanitizer security.Sanitizer) *Service {
	return &Service{
		repos:     repos,
		sanitizer: sanitizer,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// ListJobs は求人一覧を返す。
func (s *Service) ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error) {
	if err := ValidateJobFilter(filter); err != nil {
		return nil, err
	}
	jobs, err := s.repos.Jobs.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("求人一覧の取得に失敗しました: %w", err)
	}
	return nonNil(jobs), nil
}

// GetJob は求人詳細を企業情報と応募一覧付きで返す。
func (s *Service) GetJob(ctx context.Context, id string) (*model.JobDetail, error) {
	if !validID(id) {
		return nil, model.NewJobNotFoundError(id)
	}
	job, err := s.repos.Jobs.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("求人の取得に失敗しました: %w", err)
	}
	if job == nil {
		return nil, model.NewJobNotFoundError(id)
	}

	detail := &model.JobDetail{Job: *job}
	if job.CompanyID != "" {
		company, err := s.repos.Companies.FindByID(ctx, job.CompanyID)
		if err != nil {
			return nil, fmt.Errorf("企業の取得に失敗しました: %w", err)
		}
		detail.Company = company
	}

	apps, err := s.repos.Applications.List(ctx, model.ApplicationFilter{JobID: id})
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	detail.Applications = nonNil(apps)

	return detail, nil
}

// CreateJob は求人を作成する。createdByは作成者のユーザーID。
func (s *Service) CreateJob(ctx context.Context, createdBy string, in JobInput) (*model.Job, error) {
	in, err := validateJobInput(in)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &model.Job{
		ID:             s.newID(),
		CompanyID:      in.CompanyID,
		Title:          s.sanitizer.PlainText(in.Title),
		Description:    s.sanitizer.RichText(in.Description),
		Department:     s.sanitizer.PlainText(in.Department),
		Location:       s.sanitizer.PlainText(in.Location),
		EmploymentType: s.sanitizer.PlainText(in.EmploymentType),
		Status:         in.Status,
		Priority:       in.Priority,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if job.Title == "" {
		return nil, model.NewValidationError("Job title is required")
	}

	if err := s.repos.Jobs.Create(ctx, job); err != nil {
		if repository.IsForeignKeyViolation(err) {
			return nil, model.NewValidationError("Unknown company")
		}
		return nil, fmt.Errorf("求人の作成に失敗しました: %w", err)
	}
	return job, nil
}

// UpdateJob は求人を部分更新し、更新後の求人を返す。
func (s *Service) UpdateJob(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error) {
	if !validID(id) {
		return nil, model.NewJobNotFoundError(id)
	}
	if err := validateJobUpdate(update); err != nil {
		return nil, err
	}

	update.Title = s.sanitizePtr(update.Title, s.sanitizer.PlainText)
	update.Description = s.sanitizePtr(update.Description, s.sanitizer.RichText)
	update.Department = s.sanitizePtr(update.Department, s.sanitizer.PlainText)
	update.Location = s.sanitizePtr(update.Location, s.sanitizer.PlainText)

	job, err := s.repos.Jobs.Update(ctx, id, update)
	if err != nil {
		return nil, fmt.Errorf("求人の更新に失敗しました: %w", err)
	}
	if job == nil {
		return nil, model.NewJobNotFoundError(id)
	}
	return job, nil
}

// ListApplications は応募一覧を返す。
func (s *Service) ListApplications(ctx context.Context, filter model.ApplicationFilter) ([]model.Application, error) {
	if err := ValidateApplicationFilter(filter); err != nil {
		return nil, err
	}
	apps, err := s.repos.Applications.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("応募一覧の取得に失敗しました: %w", err)
	}
	return nonNil(apps), nil
}

// UpdateApplicationStatus は応募の選考段階を更新する。
// notesが空の場合はメモを変更しない。
func (s *Service) UpdateApplicationStatus(ctx context.Context, id string, status model.ApplicationStatus, notes string) (*model.Application, error) {
	if !validID(id) {
		return nil, model.NewApplicationNotFoundError(id)
	}
	if !status.Valid() {
		return nil, model.NewValidationError("Invalid application status: " + string(status))
	}
	if len(notes) > maxNotesLength {
		return nil, model.NewValidationError("Notes are too long")
	}

	var notesPtr *string
	if cleaned := s.sanitizer.PlainText(notes); cleaned != "" {
		notesPtr = &cleaned
	}

	app, err := s.repos.Applications.UpdateStatus(ctx, id, status, notesPtr)
	if err != nil {
		return nil, fmt.Errorf("応募ステータスの更新に失敗しました: %w", err)
	}
	if app == nil {
		return nil, model.NewApplicationNotFoundError(id)
	}
	return app, nil
}

// ListCandidates は候補者一覧を返す。
func (s *Service) ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]model.Candidate, error) {
	if err := ValidateCandidateFilter(filter); err != nil {
		return nil, err
	}
	filter.Skills = normalizeSkills(filter.Skills)
	candidates, err := s.repos.Candidates.List(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("候補者一覧の取得に失敗しました: %w", err)
	}
	return nonNil(candidates), nil
}

// CreateCandidate は候補者を作成する。
func (s *Service) CreateCandidate(ctx context.Context, in CandidateInput) (*model.Candidate, error) {
	in, err := validateCandidateInput(in)
	if err != nil {
		return nil, err
	}

	c := &model.Candidate{
		ID:               s.newID(),
		FullName:         s.sanitizer.PlainText(in.FullName),
		Email:            in.Email,
		Location:         s.sanitizer.PlainText(in.Location),
		Skills:           normalizeSkills(in.Skills),
		ExperienceYears:  in.ExperienceYears,
		CredibilityScore: in.CredibilityScore,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.repos.Candidates.Create(ctx, c); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, model.NewValidationError("A candidate with this email already exists")
		}
		return nil, fmt.Errorf("候補者の作成に失敗しました: %w", err)
	}
	return c, nil
}

// RecruitmentMetrics は採用指標を返す。
func (s *Service) RecruitmentMetrics(ctx context.Context, filter model.MetricFilter) ([]model.RecruitmentMetric, error) {
	if err := ValidateMetricFilter(filter); err != nil {
		return nil, err
	}
	metrics, err := s.repos.Metrics.ListRecruitmentMetrics(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("採用指標の取得に失敗しました: %w", err)
	}
	return nonNil(metrics), nil
}

// DailyAnalytics は直近days日分の日次集計を日付の昇順で返す。
// daysが0以下の場合は7日、上限は365日。
func (s *Service) DailyAnalytics(ctx context.Context, days int) ([]model.DailyAnalytics, error) {
	if days <= 0 {
		days = defaultDailyDays
	}
	if days > maxDailyDays {
		days = maxDailyDays
	}
	since := s.now().UTC().AddDate(0, 0, -days)
	analytics, err := s.repos.Metrics.ListDailyAnalytics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("日次集計の取得に失敗しました: %w", err)
	}
	return nonNil(analytics), nil
}

// RecruiterPerformance はリクルーター実績を返す。
func (s *Service) RecruiterPerformance(ctx context.Context, filter model.PerformanceFilter) ([]model.RecruiterPerformance, error) {
	if err := ValidatePerformanceFilter(filter); err != nil {
		return nil, err
	}
	perf, err := s.repos.Metrics.ListRecruiterPerformance(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("リクルーター実績の取得に失敗しました: %w", err)
	}
	return nonNil(perf), nil
}

// Companies は有効な企業を名前順で返す。
func (s *Service) Companies(ctx context.Context) ([]model.Company, error) {
	companies, err := s.repos.Companies.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("企業一覧の取得に失敗しました: %w", err)
	}
	return nonNil(companies), nil
}

// Profiles は有効なユーザープロフィールを返す。roleが空の場合は全ロール。
func (s *Service) Profiles(ctx context.Context, role model.Role) ([]model.UserProfile, error) {
	if role != "" && !role.Valid() {
		return nil, model.NewInvalidFilterError("role", string(role))
	}
	profiles, err := s.repos.Profiles.ListProfiles(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("プロフィール一覧の取得に失敗しました: %w", err)
	}
	return nonNil(profiles), nil
}

func (s *Service) sanitizePtr(v *string, fn func(string) string) *string {
	if v == nil {
		return nil
	}
	cleaned := fn(*v)
	return &cleaned
}

// nonNil はJSONで空配列として返すため、nilスライスを空スライスに置き換える。
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
