package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/talentstrike/internal/dashboard"
)

// OverviewService はダッシュボード概要の読み取りモデルを提供する。
// dashboard.Serviceが実装する。
type OverviewService interface {
	Overview(ctx context.Context, filters dashboard.Filters, sort dashboard.LeaderboardSort) (*dashboard.Overview, error)
}

// DashboardHandler はダッシュボード概要のHTTPハンドラー。
type DashboardHandler struct {
	service OverviewService
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service OverviewService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Overview はグローバルフィルタを適用したファネル・日次集計・リーダーボードを返す。
// GET /api/dashboard/overview?time_range=30d&department=all&location=all&comparison=previous&sort_by=&sort_order=
func (h *DashboardHandler) Overview(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters, err := dashboard.ParseFilters(q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	sort, err := dashboard.ParseLeaderboardSort(q)
	if err != nil {
		writeError(w, r, err)
		return
	}

	overview, err := h.service.Overview(r.Context(), filters, sort)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
