package dashboard

import (
	"cmp"
	"net/url"
	"slices"

	"github.com/hitoshi/talentstrike/internal/model"
)

// SortField はリーダーボードの並べ替え項目。
type SortField string

const (
	SortApplications SortField = "applications"
	SortInterviews   SortField = "interviews"
	SortOffers       SortField = "offers"
	SortHires        SortField = "hires"
	SortHireRate     SortField = "hire_rate"
)

// SortOrder は並び順。
type SortOrder string

const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// LeaderboardSort はリーダーボードの並べ替え条件。既定はapplicationsの降順。
type LeaderboardSort struct {
	By    SortField `json:"sort_by"`
	Order SortOrder `json:"sort_order"`
}

// LeaderboardEntry はリーダーボードの1行。
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	model.RecruiterPerformance
}

// ParseLeaderboardSort はsort_by/sort_orderクエリパラメータを読み取る。
func ParseLeaderboardSort(q url.Values) (LeaderboardSort, error) {
	s := LeaderboardSort{By: SortApplications, Order: SortDesc}
	if v := q.Get("sort_by"); v != "" {
		switch SortField(v) {
		case SortApplications, SortInterviews, SortOffers, SortHires, SortHireRate:
			s.By = SortField(v)
		default:
			return s, model.NewInvalidFilterError("sort_by", v)
		}
	}
	if v := q.Get("sort_order"); v != "" {
		switch SortOrder(v) {
		case SortAsc, SortDesc:
			s.Order = SortOrder(v)
		default:
			return s, model.NewInvalidFilterError("sort_order", v)
		}
	}
	return s, nil
}

func (s LeaderboardSort) value(p model.RecruiterPerformance) float64 {
	switch s.By {
	case SortInterviews:
		return float64(p.InterviewsConducted)
	case SortOffers:
		return float64(p.OffersMade)
	case SortHires:
		return float64(p.HiresCompleted)
	case SortHireRate:
		return p.HireRate
	default:
		return float64(p.ApplicationsProcessed)
	}
}

// BuildLeaderboard は実績を並べ替えて1から順位を付ける。
// 同値の行は元の順序を保つ。入力のスライスは変更しない。
func BuildLeaderboard(perf []model.RecruiterPerformance, s LeaderboardSort) []LeaderboardEntry {
	sorted := slices.Clone(perf)
	slices.SortStableFunc(sorted, func(a, b model.RecruiterPerformance) int {
		c := cmp.Compare(s.value(a), s.value(b))
		if s.Order == SortDesc {
			return -c
		}
		return c
	})

	entries := make([]LeaderboardEntry, len(sorted))
	for i, p := range sorted {
		entries[i] = LeaderboardEntry{Rank: i + 1, RecruiterPerformance: p}
	}
	return entries
}

// LatestPeriod はmetric_periodの降順に並んだ実績から最新期間の行だけを返す。
func LatestPeriod(perf []model.RecruiterPerformance) []model.RecruiterPerformance {
	if len(perf) == 0 {
		return perf
	}
	latest := perf[0].MetricPeriod
	out := make([]model.RecruiterPerformance, 0, len(perf))
	for _, p := range perf {
		if p.MetricPeriod == latest {
			out = append(out, p)
		}
	}
	return out
}
