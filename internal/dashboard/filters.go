// Package dashboard はダッシュボード画面向けの読み取りモデルを組み立てる。
package dashboard

import (
	"net/url"
	"slices"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
)

const (
	filterAll      = "all"
	filterPrevious = "previous"
)

// 選択可能なフィルタ値
var (
	TimeRanges  = []string{"7d", "30d", "90d", "1y"}
	Departments = []string{filterAll, "engineering", "sales", "marketing", "product", "operations"}
	Locations   = []string{filterAll, "us", "eu", "apac", "remote"}
	Comparisons = []string{filterPrevious, "year_ago", "benchmark", "target"}
)

// Filters はダッシュボード全体に適用するグローバルフィルタ。
type Filters struct {
	TimeRange  string `json:"time_range"`
	Department string `json:"department"`
	Location   string `json:"location"`
	Comparison string `json:"comparison"`
}

// DefaultFilters は初期状態のフィルタを返す。
func DefaultFilters() Filters {
	return Filters{
		TimeRange:  "30d",
		Department: filterAll,
		Location:   filterAll,
		Comparison: filterPrevious,
	}
}

// ParseFilters はクエリパラメータからフィルタを読み取る。
// 未指定の項目は既定値、定義外の値はINVALID_FILTERエラー。
func ParseFilters(q url.Values) (Filters, error) {
	f := DefaultFilters()
	fields := []struct {
		key     string
		dst     *string
		allowed []string
	}{
		{key: "time_range", dst: &f.TimeRange, allowed: TimeRanges},
		{key: "department", dst: &f.Department, allowed: Departments},
		{key: "location", dst: &f.Location, allowed: Locations},
		{key: "comparison", dst: &f.Comparison, allowed: Comparisons},
	}
	for _, field := range fields {
		v := q.Get(field.key)
		if v == "" {
			continue
		}
		if !slices.Contains(field.allowed, v) {
			return Filters{}, model.NewInvalidFilterError(field.key, v)
		}
		*field.dst = v
	}
	return f, nil
}

// ActiveCount は既定値（all/previous）以外が選ばれているフィルタの数を返す。
// 期間は常に選択されているため1に数える。
func (f Filters) ActiveCount() int {
	n := 0
	for _, v := range []string{f.TimeRange, f.Department, f.Location, f.Comparison} {
		if v != filterAll && v != filterPrevious {
			n++
		}
	}
	return n
}

// Days は期間の日数を返す。
func (f Filters) Days() int {
	switch f.TimeRange {
	case "7d":
		return 7
	case "90d":
		return 90
	case "1y":
		return 365
	default:
		return 30
	}
}

// Since はnowから期間を遡った開始時刻を返す。
func (f Filters) Since(now time.Time) time.Time {
	return now.AddDate(0, 0, -f.Days())
}

// CountFilter は段階別応募数の集計条件に変換する。
func (f Filters) CountFilter(now time.Time) model.ApplicationCountFilter {
	cf := model.ApplicationCountFilter{Since: f.Since(now)}
	if f.Department != filterAll {
		cf.Department = f.Department
	}
	if f.Location != filterAll {
		cf.Location = f.Location
	}
	return cf
}
