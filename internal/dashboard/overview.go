package dashboard

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/talentstrike/internal/model"
)

// ApplicationCounter は段階別応募数を集計する。
type ApplicationCounter interface {
	CountByStatus(ctx context.Context, filter model.ApplicationCountFilter) (map[model.ApplicationStatus]int, error)
}

// AnalyticsReader は日次集計とリクルーター実績を読み取る。
type AnalyticsReader interface {
	ListDailyAnalytics(ctx context.Context, since time.Time) ([]model.DailyAnalytics, error)
	ListRecruiterPerformance(ctx context.Context, filter model.PerformanceFilter) ([]model.RecruiterPerformance, error)
}

// Overview はエグゼクティブ概要画面の読み取りモデル。
type Overview struct {
	Filters       Filters                `json:"filters"`
	ActiveFilters int                    `json:"active_filters"`
	Funnel        []FunnelStage          `json:"funnel"`
	Daily         []model.DailyAnalytics `json:"daily"`
	Leaderboard   []LeaderboardEntry     `json:"leaderboard"`
	Sort          LeaderboardSort        `json:"sort"`
	GeneratedAt   time.Time              `json:"generated_at"`
	LastUpdated   string                 `json:"last_updated"`
}

// Service はダッシュボードの読み取りモデルを組み立てる。
type Service struct {
	applications ApplicationCounter
	analytics    AnalyticsReader
	now          func() time.Time
}

// NewService はServiceを生成する。
func NewService(applications ApplicationCounter, analytics AnalyticsReader) *Service {
	return &Service{
		applications: applications,
		analytics:    analytics,
		now:          time.Now,
	}
}

// Overview はファネル・日次集計・リーダーボードを並行に取得して組み立てる。
// いずれかの取得が失敗した場合は残りをキャンセルしてエラーを返す。
func (s *Service) Overview(ctx context.Context, filters Filters, sort LeaderboardSort) (*Overview, error) {
	now := s.now().UTC()
	g, gctx := errgroup.WithContext(ctx)

	var counts map[model.ApplicationStatus]int
	g.Go(func() error {
		var err error
		counts, err = s.applications.CountByStatus(gctx, filters.CountFilter(now))
		if err != nil {
			return fmt.Errorf("failed to count applications: %w", err)
		}
		return nil
	})

	var daily []model.DailyAnalytics
	g.Go(func() error {
		var err error
		daily, err = s.analytics.ListDailyAnalytics(gctx, filters.Since(now))
		if err != nil {
			return fmt.Errorf("failed to list daily analytics: %w", err)
		}
		return nil
	})

	var perf []model.RecruiterPerformance
	g.Go(func() error {
		var err error
		perf, err = s.analytics.ListRecruiterPerformance(gctx, model.PerformanceFilter{})
		if err != nil {
			return fmt.Errorf("failed to list recruiter performance: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if daily == nil {
		daily = []model.DailyAnalytics{}
	}
	return &Overview{
		Filters:       filters,
		ActiveFilters: filters.ActiveCount(),
		Funnel:        BuildFunnel(counts),
		Daily:         daily,
		Leaderboard:   BuildLeaderboard(LatestPeriod(perf), sort),
		Sort:          sort,
		GeneratedAt:   now,
		LastUpdated:   lastUpdated(now, daily),
	}, nil
}

// lastUpdated は最新の日次集計の日付からの経過時間を返す。集計がない場合は"Just now"。
func lastUpdated(now time.Time, daily []model.DailyAnalytics) string {
	if len(daily) == 0 {
		return RelativeTime(now, now)
	}
	return RelativeTime(now, daily[len(daily)-1].Date)
}
