package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/talentstrike/internal/dashboard"
	"github.com/hitoshi/talentstrike/internal/middleware"
	"github.com/hitoshi/talentstrike/internal/model"
	"github.com/hitoshi/talentstrike/internal/recruitment"
)

const dateLayout = "2006-01-02"

// RecruitmentService は採用データハンドラーが必要とするサービスインターフェース。
// recruitment.Serviceが実装する。
type RecruitmentService interface {
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.Job, error)
	GetJob(ctx context.Context, id string) (*model.JobDetail, error)
	CreateJob(ctx context.Context, createdBy string, in recruitment.JobInput) (*model.Job, error)
	UpdateJob(ctx context.Context, id string, update model.JobUpdate) (*model.Job, error)
	ListApplications(ctx context.Context, filter model.ApplicationFilter) ([]model.Application, error)
	UpdateApplicationStatus(ctx context.Context, id string, status model.ApplicationStatus, notes string) (*model.Application, error)
	ListCandidates(ctx context.Context, filter model.CandidateFilter) ([]model.Candidate, error)
	CreateCandidate(ctx context.Context, in recruitment.CandidateInput) (*model.Candidate, error)
	RecruitmentMetrics(ctx context.Context, filter model.MetricFilter) ([]model.RecruitmentMetric, error)
	DailyAnalytics(ctx context.Context, days int) ([]model.DailyAnalytics, error)
	RecruiterPerformance(ctx context.Context, filter model.PerformanceFilter) ([]model.RecruiterPerformance, error)
	Companies(ctx context.Context) ([]model.Company, error)
	Profiles(ctx context.Context, role model.Role) ([]model.UserProfile, error)
}

// RecruitmentHandler は求人・応募・候補者・指標のHTTPハンドラー。
type RecruitmentHandler struct {
	service RecruitmentService
}

// NewRecruitmentHandler はRecruitmentHandlerを生成する。
func NewRecruitmentHandler(service RecruitmentService) *RecruitmentHandler {
	return &RecruitmentHandler{service: service}
}

type updateApplicationStatusRequest struct {
	Status model.ApplicationStatus `json:"status"`
	Notes  string                  `json:"notes"`
}

// listResponse は一覧のAPIレスポンス。
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func newListResponse[T any](items []T) listResponse[T] {
	return listResponse[T]{Items: items, Count: len(items)}
}

// ListJobs は求人一覧を返す。
// GET /api/jobs?status=&department=&priority=
func (h *RecruitmentHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	jobs, err := h.service.ListJobs(r.Context(), model.JobFilter{
		Status:     model.JobStatus(q.Get("status")),
		Department: q.Get("department"),
		Priority:   model.JobPriority(q.Get("priority")),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(jobs))
}

// GetJob は求人詳細を返す。
// GET /api/jobs/{id}
func (h *RecruitmentHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// CreateJob は求人を作成する。作成者はログイン中のユーザー。
// POST /api/jobs
func (h *RecruitmentHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeError(w, r, model.NewNoActiveUserError())
		return
	}

	var in recruitment.JobInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.service.CreateJob(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

// UpdateJob は求人を部分更新する。
// PATCH /api/jobs/{id}
func (h *RecruitmentHandler) UpdateJob(w http.ResponseWriter, r *http.Request) {
	var update model.JobUpdate
	if err := decodeJSON(w, r, &update); err != nil {
		writeError(w, r, err)
		return
	}

	job, err := h.service.UpdateJob(r.Context(), chi.URLParam(r, "id"), update)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListApplications は応募一覧を返す。
// GET /api/applications?status=&job_id=&recruiter_id=
func (h *RecruitmentHandler) ListApplications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	apps, err := h.service.ListApplications(r.Context(), model.ApplicationFilter{
		Status:      model.ApplicationStatus(q.Get("status")),
		JobID:       q.Get("job_id"),
		RecruiterID: q.Get("recruiter_id"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(apps))
}

// UpdateApplicationStatus は応募の選考段階を更新する。
// PATCH /api/applications/{id}/status
func (h *RecruitmentHandler) UpdateApplicationStatus(w http.ResponseWriter, r *http.Request) {
	var req updateApplicationStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	app, err := h.service.UpdateApplicationStatus(r.Context(), chi.URLParam(r, "id"), req.Status, req.Notes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, app)
}

// ListCandidates は候補者一覧を返す。
// skillsはカンマ区切りまたは複数指定。
// GET /api/candidates?skills=go,sql&experience_min=3
func (h *RecruitmentHandler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.CandidateFilter{Skills: splitList(q["skills"])}
	if v := q.Get("experience_min"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, r, model.NewInvalidFilterError("experience_min", v))
			return
		}
		filter.ExperienceMin = n
	}

	candidates, err := h.service.ListCandidates(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(candidates))
}

// CreateCandidate は候補者を作成する。
// POST /api/candidates
func (h *RecruitmentHandler) CreateCandidate(w http.ResponseWriter, r *http.Request) {
	var in recruitment.CandidateInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, r, err)
		return
	}

	c, err := h.service.CreateCandidate(r.Context(), in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// ListCompanies は有効な企業一覧を返す。
// GET /api/companies
func (h *RecruitmentHandler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.service.Companies(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(companies))
}

// ListProfiles はユーザープロフィール一覧を返す。
// GET /api/profiles?role=recruiter
func (h *RecruitmentHandler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.service.Profiles(r.Context(), model.Role(r.URL.Query().Get("role")))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(profiles))
}

// RecruitmentMetrics は採用指標を返す。日付はYYYY-MM-DD。
// GET /api/metrics/recruitment?date_from=&date_to=&recruiter_id=
func (h *RecruitmentHandler) RecruitmentMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.MetricFilter{RecruiterID: q.Get("recruiter_id")}
	dates := []struct {
		name string
		dst  *time.Time
	}{
		{name: "date_from", dst: &filter.DateFrom},
		{name: "date_to", dst: &filter.DateTo},
	}
	for _, d := range dates {
		v := q.Get(d.name)
		if v == "" {
			continue
		}
		t, err := time.Parse(dateLayout, v)
		if err != nil {
			writeError(w, r, model.NewInvalidFilterError(d.name, v))
			return
		}
		*d.dst = t
	}

	metrics, err := h.service.RecruitmentMetrics(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(metrics))
}

// DailyAnalytics は直近days日分の日次集計を返す。既定は7日。
// GET /api/metrics/daily?days=7
func (h *RecruitmentHandler) DailyAnalytics(w http.ResponseWriter, r *http.Request) {
	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, model.NewInvalidFilterError("days", v))
			return
		}
		days = n
	}

	analytics, err := h.service.DailyAnalytics(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newListResponse(analytics))
}

// RecruiterLeaderboard はリクルーター実績をランキング形式で返す。
// periodを指定しない場合は最新の期間のみを対象にする。
// GET /api/metrics/recruiters?period=2024-01&recruiter_id=&sort_by=hires&sort_order=desc
func (h *RecruitmentHandler) RecruiterLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sort, err := dashboard.ParseLeaderboardSort(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	filter := model.PerformanceFilter{
		Period:      q.Get("period"),
		RecruiterID: q.Get("recruiter_id"),
	}
	perf, err := h.service.RecruiterPerformance(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Period == "" {
		perf = dashboard.LatestPeriod(perf)
	}

	writeJSON(w, http.StatusOK, leaderboardResponse{
		listResponse: newListResponse(dashboard.BuildLeaderboard(perf, sort)),
		Sort:         sort,
	})
}

type leaderboardResponse struct {
	listResponse[dashboard.LeaderboardEntry]
	Sort dashboard.LeaderboardSort `json:"sort"`
}

// splitList はカンマ区切りと複数指定の両方を受け付けて空要素を除いたスライスを返す。
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
