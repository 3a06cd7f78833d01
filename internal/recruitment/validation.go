package recruitment

import (
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/talentstrike/internal/model"
)

const (
	maxTitleLength       = 200
	maxNotesLength       = 4000
	maxDescriptionLength = 20000
	defaultDailyDays     = 7
	maxDailyDays         = 365
)

// JobInput は求人作成の入力。
type JobInput struct {
	CompanyID      string            `json:"company_id"`
	Title          string            `json:"title"`
	Description    string            `json:"description"`
	Department     string            `json:"department"`
	Location       string            `json:"location"`
	EmploymentType string            `json:"employment_type"`
	Status         model.JobStatus   `json:"status"`
	Priority       model.JobPriority `json:"priority"`
}

// CandidateInput は候補者作成の入力。
type CandidateInput struct {
	FullName         string   `json:"full_name"`
	Email            string   `json:"email"`
	Location         string   `json:"location"`
	Skills           []string `json:"skills"`
	ExperienceYears  int      `json:"experience_years"`
	CredibilityScore float64  `json:"credibility_score"`
}

// ValidateJobFilter は求人一覧の絞り込み条件を検証する。
func ValidateJobFilter(f model.JobFilter) error {
	if f.Status != "" && !f.Status.Valid() {
		return model.NewInvalidFilterError("status", string(f.Status))
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return model.NewInvalidFilterError("priority", string(f.Priority))
	}
	return nil
}

// ValidateApplicationFilter は応募一覧の絞り込み条件を検証する。
func ValidateApplicationFilter(f model.ApplicationFilter) error {
	if f.Status != "" && !f.Status.Valid() {
		return model.NewInvalidFilterError("status", string(f.Status))
	}
	if f.JobID != "" && !validID(f.JobID) {
		return model.NewInvalidFilterError("job_id", f.JobID)
	}
	if f.RecruiterID != "" && !validID(f.RecruiterID) {
		return model.NewInvalidFilterError("recruiter_id", f.RecruiterID)
	}
	return nil
}

// ValidateCandidateFilter は候補者一覧の絞り込み条件を検証する。
func ValidateCandidateFilter(f model.CandidateFilter) error {
	if f.ExperienceMin < 0 {
		return model.NewInvalidFilterError("experience_min", "negative")
	}
	return nil
}

// ValidateMetricFilter は採用指標の絞り込み条件を検証する。
func ValidateMetricFilter(f model.MetricFilter) error {
	if !f.DateFrom.IsZero() && !f.DateTo.IsZero() && f.DateTo.Before(f.DateFrom) {
		return model.NewInvalidFilterError("date_to", f.DateTo.Format("2006-01-02"))
	}
	if f.RecruiterID != "" && !validID(f.RecruiterID) {
		return model.NewInvalidFilterError("recruiter_id", f.RecruiterID)
	}
	return nil
}

// ValidatePerformanceFilter はリクルーター実績の絞り込み条件を検証する。
func ValidatePerformanceFilter(f model.PerformanceFilter) error {
	if f.RecruiterID != "" && !validID(f.RecruiterID) {
		return model.NewInvalidFilterError("recruiter_id", f.RecruiterID)
	}
	return nil
}

// validID はidがハイフン区切りの正規形UUIDかどうかを返す。
// ID列はすべてUUID型で、それ以外の文字列はPostgresが型エラーにする。
func validID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// validateJobInput は求人作成の入力を検証し、既定値を補完する。
func validateJobInput(in JobInput) (JobInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, model.NewValidationError("Job title is required")
	}
	in.CompanyID = strings.TrimSpace(in.CompanyID)
	if in.CompanyID != "" && !validID(in.CompanyID) {
		return in, model.NewValidationError("Unknown company")
	}
	if len(in.Title) > maxTitleLength {
		return in, model.NewValidationError("Job title is too long")
	}
	if len(in.Description) > maxDescriptionLength {
		return in, model.NewValidationError("Job description is too long")
	}
	if in.Status == "" {
		in.Status = model.JobStatusDraft
	}
	if !in.Status.Valid() {
		return in, model.NewValidationError("Invalid job status: " + string(in.Status))
	}
	if in.Priority == "" {
		in.Priority = model.JobPriorityMedium
	}
	if !in.Priority.Valid() {
		return in, model.NewValidationError("Invalid job priority: " + string(in.Priority))
	}
	if in.EmploymentType == "" {
		in.EmploymentType = "full_time"
	}
	return in, nil
}

// validateJobUpdate は求人の部分更新を検証する。
func validateJobUpdate(u model.JobUpdate) error {
	if u.Title == nil && u.Description == nil && u.Department == nil &&
		u.Location == nil && u.Status == nil && u.Priority == nil {
		return model.NewValidationError("No fields to update")
	}
	if u.Title != nil {
		title := strings.TrimSpace(*u.Title)
		if title == "" {
			return model.NewValidationError("Job title is required")
		}
		if len(title) > maxTitleLength {
			return model.NewValidationError("Job title is too long")
		}
	}
	if u.Description != nil && len(*u.Description) > maxDescriptionLength {
		return model.NewValidationError("Job description is too long")
	}
	if u.Status != nil && !u.Status.Valid() {
		return model.NewValidationError("Invalid job status: " + string(*u.Status))
	}
	if u.Priority != nil && !u.Priority.Valid() {
		return model.NewValidationError("Invalid job priority: " + string(*u.Priority))
	}
	return nil
}

// validateCandidateInput は候補者作成の入力を検証する。
func validateCandidateInput(in CandidateInput) (CandidateInput, error) {
	in.FullName = strings.TrimSpace(in.FullName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	if in.FullName == "" || in.Email == "" {
		return in, model.NewValidationError("Candidate name and email are required")
	}
	if !strings.Contains(in.Email, "@") {
		return in, model.NewValidationError("Invalid email address")
	}
	if in.ExperienceYears < 0 {
		return in, model.NewValidationError("Experience years must not be negative")
	}
	if in.CredibilityScore < 0 || in.CredibilityScore > 100 {
		return in, model.NewValidationError("Credibility score must be between 0 and 100")
	}
	return in, nil
}

// normalizeSkills は空要素と重複を除き、小文字にそろえたスキル一覧を返す。
func normalizeSkills(skills []string) []string {
	seen := make(map[string]bool, len(skills))
	out := make([]string, 0, len(skills))
	for _, s := range skills {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
