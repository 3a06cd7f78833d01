// Package rollup はダッシュボードの集計テーブルを再計算するジョブを提供する。
package rollup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// PeriodLayout はリクルーター実績の集計期間（月）の書式。
const PeriodLayout = "2006-01"

// MetricsStore は集計テーブルを再計算できるストア。
// repository.MetricsRepository が満たす。
type MetricsStore interface {
	RollupDailyAnalytics(ctx context.Context, day time.Time) error
	RollupRecruiterPerformance(ctx context.Context, period string, from, to time.Time) (int64, error)
}

// DailyAnalyticsJob は当日と前日の日次集計を再計算する。
// 日付をまたいだ直後に前日分の最終値を確定させるため前日も対象にする。
type DailyAnalyticsJob struct {
	store  MetricsStore
	logger *slog.Logger
	now    func() time.Time
}

// NewDailyAnalyticsJob はDailyAnalyticsJobを生成する。
func NewDailyAnalyticsJob(store MetricsStore, logger *slog.Logger) *DailyAnalyticsJob {
	return &DailyAnalyticsJob{store: store, logger: logger, now: time.Now}
}

// Name はジョブ名を返す。
func (j *DailyAnalyticsJob) Name() string { return "daily_analytics_rollup" }

// Run は前日と当日の集計をUPSERTする。
func (j *DailyAnalyticsJob) Run(ctx context.Context) error {
	today := truncateDay(j.now().UTC())
	for _, day := range []time.Time{today.AddDate(0, 0, -1), today} {
		if err := j.store.RollupDailyAnalytics(ctx, day); err != nil {
			return fmt.Errorf("日次集計の再計算に失敗 (%s): %w", day.Format(time.DateOnly), err)
		}
	}
	j.logger.Info("日次集計を再計算しました",
		slog.String("date", today.Format(time.DateOnly)),
	)
	return nil
}

// RecruiterPerformanceJob は当月のリクルーター実績を再計算する。
type RecruiterPerformanceJob struct {
	store  MetricsStore
	logger *slog.Logger
	now    func() time.Time
}

// NewRecruiterPerformanceJob はRecruiterPerformanceJobを生成する。
func NewRecruiterPerformanceJob(store MetricsStore, logger *slog.Logger) *RecruiterPerformanceJob {
	return &RecruiterPerformanceJob{store: store, logger: logger, now: time.Now}
}

// Name はジョブ名を返す。
func (j *RecruiterPerformanceJob) Name() string { return "recruiter_performance_rollup" }

// Run は当月1日から翌月1日までに作成された応募から実績をUPSERTする。
func (j *RecruiterPerformanceJob) Run(ctx context.Context) error {
	from, to := MonthRange(j.now())
	period := from.Format(PeriodLayout)

	n, err := j.store.RollupRecruiterPerformance(ctx, period, from, to)
	if err != nil {
		return fmt.Errorf("リクルーター実績の再計算に失敗 (%s): %w", period, err)
	}
	j.logger.Info("リクルーター実績を再計算しました",
		slog.String("period", period),
		slog.Int64("recruiters", n),
	)
	return nil
}

// MonthRange はtを含む月の[月初, 翌月初)をUTCで返す。
func MonthRange(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
