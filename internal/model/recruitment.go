package model

import "time"

// JobStatus は求人の公開状態を表す。
type JobStatus string

const (
	JobStatusDraft  JobStatus = "draft"
	JobStatusOpen   JobStatus = "open"
	JobStatusPaused JobStatus = "paused"
	JobStatusClosed JobStatus = "closed"
)

// Valid は定義済みの状態かどうかを返す。
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusDraft, JobStatusOpen, JobStatusPaused, JobStatusClosed:
		return true
	default:
		return false
	}
}

// JobPriority は求人の優先度を表す。
type JobPriority string

const (
	JobPriorityLow    JobPriority = "low"
	JobPriorityMedium JobPriority = "medium"
	JobPriorityHigh   JobPriority = "high"
	JobPriorityUrgent JobPriority = "urgent"
)

// Valid は定義済みの優先度かどうかを返す。
func (p JobPriority) Valid() bool {
	switch p {
	case JobPriorityLow, JobPriorityMedium, JobPriorityHigh, JobPriorityUrgent:
		return true
	default:
		return false
	}
}

// ApplicationStatus は応募の選考段階を表す。
// 定義順がファネルの段階順になる。
type ApplicationStatus string

const (
	ApplicationApplied        ApplicationStatus = "applied"
	ApplicationScreening      ApplicationStatus = "screening"
	ApplicationInterview      ApplicationStatus = "interview"
	ApplicationAssessment     ApplicationStatus = "assessment"
	ApplicationFinalInterview ApplicationStatus = "final_interview"
	ApplicationOffer          ApplicationStatus = "offer"
	ApplicationHired          ApplicationStatus = "hired"
	ApplicationRejected       ApplicationStatus = "rejected"
	ApplicationWithdrawn      ApplicationStatus = "withdrawn"
)

// FunnelStages はファネル集計に使う段階の順序。rejected/withdrawnは含まない。
var FunnelStages = []ApplicationStatus{
	ApplicationApplied,
	ApplicationScreening,
	ApplicationInterview,
	ApplicationAssessment,
	ApplicationFinalInterview,
	ApplicationOffer,
	ApplicationHired,
}

// Valid は定義済みの選考段階かどうかを返す。
func (s ApplicationStatus) Valid() bool {
	switch s {
	case ApplicationRejected, ApplicationWithdrawn:
		return true
	}
	for _, st := range FunnelStages {
		if st == s {
			return true
		}
	}
	return false
}

// Company は採用企業を表す。
type Company struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LogoURL  string `json:"logo_url"`
	Industry string `json:"industry"`
	IsActive bool   `json:"is_active"`
}

// Job は求人を表す。
type Job struct {
	ID                string      `json:"id"`
	CompanyID         string      `json:"company_id"`
	Title             string      `json:"title"`
	Description       string      `json:"description"`
	Department        string      `json:"department"`
	Location          string      `json:"location"`
	EmploymentType    string      `json:"employment_type"`
	Status            JobStatus   `json:"status"`
	Priority          JobPriority `json:"priority"`
	CreatedBy         string      `json:"created_by"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	CompanyName       string      `json:"company_name,omitempty"`
	CreatedByName     string      `json:"created_by_name,omitempty"`
	ApplicationsCount int         `json:"applications_count"`
}

// JobUpdate は求人の部分更新を表す。nilのフィールドは変更しない。
type JobUpdate struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Department  *string      `json:"department,omitempty"`
	Location    *string      `json:"location,omitempty"`
	Status      *JobStatus   `json:"status,omitempty"`
	Priority    *JobPriority `json:"priority,omitempty"`
}

// JobFilter は求人一覧の絞り込み条件。空文字は条件なし。
type JobFilter struct {
	Status     JobStatus
	Department string
	Priority   JobPriority
}

// Candidate は候補者を表す。
type Candidate struct {
	ID               string    `json:"id"`
	FullName         string    `json:"full_name"`
	Email            string    `json:"email"`
	Location         string    `json:"location"`
	Skills           []string  `json:"skills"`
	ExperienceYears  int       `json:"experience_years"`
	CredibilityScore float64   `json:"credibility_score"`
	StrikePoints     int       `json:"strike_points"`
	CreatedAt        time.Time `json:"created_at"`
}

// CandidateFilter は候補者一覧の絞り込み条件。
// Skillsはいずれかのスキルを持つ候補者に一致する（overlap）。
type CandidateFilter struct {
	Skills        []string
	ExperienceMin int
}

// Application は応募を表す。
type Application struct {
	ID                string            `json:"id"`
	JobID             string            `json:"job_id"`
	CandidateID       string            `json:"candidate_id"`
	Status            ApplicationStatus `json:"status"`
	AssignedRecruiter string            `json:"assigned_recruiter,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	JobTitle          string            `json:"job_title,omitempty"`
	JobDepartment     string            `json:"job_department,omitempty"`
	CandidateName     string            `json:"candidate_name,omitempty"`
	RecruiterName     string            `json:"recruiter_name,omitempty"`
}

// ApplicationFilter は応募一覧の絞り込み条件。
type ApplicationFilter struct {
	Status      ApplicationStatus
	JobID       string
	RecruiterID string
}

// JobDetail は求人詳細（企業情報と応募一覧を含む）を表す。
type JobDetail struct {
	Job          Job           `json:"job"`
	Company      *Company      `json:"company,omitempty"`
	Applications []Application `json:"applications"`
}

// RecruitmentMetric は日次・求人・リクルーター単位の採用指標を表す。
type RecruitmentMetric struct {
	ID                   string    `json:"id"`
	MetricDate           time.Time `json:"metric_date"`
	JobID                string    `json:"job_id,omitempty"`
	RecruiterID          string    `json:"recruiter_id,omitempty"`
	ApplicationsReceived int       `json:"applications_received"`
	InterviewsScheduled  int       `json:"interviews_scheduled"`
	OffersMade           int       `json:"offers_made"`
	HiresMade            int       `json:"hires_made"`
	TimeToHireDays       float64   `json:"time_to_hire_days"`
	JobTitle             string    `json:"job_title,omitempty"`
	RecruiterName        string    `json:"recruiter_name,omitempty"`
}

// MetricFilter は採用指標の絞り込み条件。ゼロ値のtime.Timeは条件なし。
type MetricFilter struct {
	DateFrom    time.Time
	DateTo      time.Time
	RecruiterID string
}

// DailyAnalytics は日次集計を表す。
type DailyAnalytics struct {
	Date                time.Time `json:"date"`
	TotalApplications   int       `json:"total_applications"`
	NewCandidates       int       `json:"new_candidates"`
	InterviewsConducted int       `json:"interviews_conducted"`
	OffersExtended      int       `json:"offers_extended"`
	HiresCompleted      int       `json:"hires_completed"`
}

// RecruiterPerformance は期間単位のリクルーター実績を表す。
type RecruiterPerformance struct {
	ID                    string  `json:"id"`
	RecruiterID           string  `json:"recruiter_id"`
	MetricPeriod          string  `json:"metric_period"`
	ApplicationsProcessed int     `json:"applications_processed"`
	InterviewsConducted   int     `json:"interviews_conducted"`
	OffersMade            int     `json:"offers_made"`
	HiresCompleted        int     `json:"hires_completed"`
	HireRate              float64 `json:"hire_rate"`
	RecruiterName         string  `json:"recruiter_name,omitempty"`
	RecruiterDepartment   string  `json:"recruiter_department,omitempty"`
}

// PerformanceFilter はリクルーター実績の絞り込み条件。
type PerformanceFilter struct {
	Period      string
	RecruiterID string
}

// ApplicationCountFilter は段階別応募数の集計条件。
// Sinceがゼロ値の場合は期間で絞り込まない。空文字の部署・勤務地は条件なし。
type ApplicationCountFilter struct {
	Since      time.Time
	Department string
	Location   string
}
