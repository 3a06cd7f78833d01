package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/talentstrike/internal/model"
)

// PostgresMetricsRepo はPostgreSQLを使用した採用指標リポジトリ。
type PostgresMetricsRepo struct {
	db *sql.DB
}

// NewPostgresMetricsRepo はPostgresMetricsRepoを生成する。
func NewPostgresMetricsRepo(db *sql.DB) *PostgresMetricsRepo {
	return &PostgresMetricsRepo{db: db}
}

// buildRecruitmentMetricsQuery は採用指標一覧のクエリと引数を組み立てる。
func buildRecruitmentMetricsQuery(filter model.MetricFilter) (string, []interface{}) {
	var conds conditions
	if !filter.DateFrom.IsZero() {
		conds.add("m.metric_date >= $%d", filter.DateFrom)
	}
	if !filter.DateTo.IsZero() {
		conds.add("m.metric_date <= $%d", filter.DateTo)
	}
	if filter.RecruiterID != "" {
		conds.add("m.recruiter_id = $%d", filter.RecruiterID)
	}
	query := `
		SELECT m.id, m.metric_date, COALESCE(m.job_id::text, ''), COALESCE(m.recruiter_id::text, ''),
		       m.applications_received, m.interviews_scheduled, m.offers_made, m.hires_made,
		       m.time_to_hire_days, COALESCE(j.title, ''), COALESCE(p.full_name, '')
		FROM recruitment_metrics m
		LEFT JOIN jobs j ON j.id = m.job_id
		LEFT JOIN user_profiles p ON p.id = m.recruiter_id` +
		conds.where() + ` ORDER BY m.metric_date DESC`
	return query, conds.args
}

// ListRecruitmentMetrics は採用指標をmetric_dateの降順で返す。
func (r *PostgresMetricsRepo) ListRecruitmentMetrics(ctx context.Context, filter model.MetricFilter) ([]model.RecruitmentMetric, error) {
	query, args := buildRecruitmentMetricsQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("採用指標の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var metrics []model.RecruitmentMetric
	for rows.Next() {
		var m model.RecruitmentMetric
		if err := rows.Scan(
			&m.ID, &m.MetricDate, &m.JobID, &m.RecruiterID,
			&m.ApplicationsReceived, &m.InterviewsScheduled, &m.OffersMade, &m.HiresMade,
			&m.TimeToHireDays, &m.JobTitle, &m.RecruiterName,
		); err != nil {
			return nil, fmt.Errorf("採用指標のスキャンに失敗しました: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("採用指標の走査に失敗しました: %w", err)
	}
	return metrics, nil
}

// ListDailyAnalytics はsince以降の日次集計を日付の昇順で返す。
func (r *PostgresMetricsRepo) ListDailyAnalytics(ctx context.Context, since time.Time) ([]model.DailyAnalytics, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date, total_applications, new_candidates, interviews_conducted,
		        offers_extended, hires_completed
		 FROM daily_analytics
		 WHERE date >= $1::date
		 ORDER BY date ASC`,
		since,
	)
	if err != nil {
		return nil, fmt.Errorf("日次集計の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var days []model.DailyAnalytics
	for rows.Next() {
		var d model.DailyAnalytics
		if err := rows.Scan(
			&d.Date, &d.TotalApplications, &d.NewCandidates, &d.InterviewsConducted,
			&d.OffersExtended, &d.HiresCompleted,
		); err != nil {
			return nil, fmt.Errorf("日次集計のスキャンに失敗しました: %w", err)
		}
		days = append(days, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("日次集計の走査に失敗しました: %w", err)
	}
	return days, nil
}

// buildRecruiterPerformanceQuery はリクルーター実績一覧のクエリと引数を組み立てる。
func buildRecruiterPerformanceQuery(filter model.PerformanceFilter) (string, []interface{}) {
	var conds conditions
	if filter.Period != "" {
		conds.add("rp.metric_period = $%d", filter.Period)
	}
	if filter.RecruiterID != "" {
		conds.add("rp.recruiter_id = $%d", filter.RecruiterID)
	}
	query := `
		SELECT rp.id, rp.recruiter_id, rp.metric_period, rp.applications_processed,
		       rp.interviews_conducted, rp.offers_made, rp.hires_completed, rp.hire_rate,
		       COALESCE(p.full_name, ''), COALESCE(p.department, '')
		FROM recruiter_performance rp
		LEFT JOIN user_profiles p ON p.id = rp.recruiter_id` +
		conds.where() + ` ORDER BY rp.metric_period DESC`
	return query, conds.args
}

// ListRecruiterPerformance はリクルーター実績をmetric_periodの降順で返す。
func (r *PostgresMetricsRepo) ListRecruiterPerformance(ctx context.Context, filter model.PerformanceFilter) ([]model.RecruiterPerformance, error) {
	query, args := buildRecruiterPerformanceQuery(filter)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("リクルーター実績の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var perf []model.RecruiterPerformance
	for rows.Next() {
		var p model.RecruiterPerformance
		if err := rows.Scan(
			&p.ID, &p.RecruiterID, &p.MetricPeriod, &p.ApplicationsProcessed,
			&p.InterviewsConducted, &p.OffersMade, &p.HiresCompleted, &p.HireRate,
			&p.RecruiterName, &p.RecruiterDepartment,
		); err != nil {
			return nil, fmt.Errorf("リクルーター実績のスキャンに失敗しました: %w", err)
		}
		perf = append(perf, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("リクルーター実績の走査に失敗しました: %w", err)
	}
	return perf, nil
}

// RollupDailyAnalytics は指定日の日次集計を再計算してUPSERTする。
// 面接・オファー・採用はその日にステータスが更新された応募を数える。
func (r *PostgresMetricsRepo) RollupDailyAnalytics(ctx context.Context, day time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO daily_analytics (date, total_applications, new_candidates,
		                              interviews_conducted, offers_extended, hires_completed, updated_at)
		 SELECT $1::date,
		        (SELECT COUNT(*) FROM applications WHERE created_at::date = $1::date),
		        (SELECT COUNT(*) FROM candidates WHERE created_at::date = $1::date),
		        (SELECT COUNT(*) FROM applications WHERE updated_at::date = $1::date
		             AND status IN ('interview', 'final_interview')),
		        (SELECT COUNT(*) FROM applications WHERE updated_at::date = $1::date AND status = 'offer'),
		        (SELECT COUNT(*) FROM applications WHERE updated_at::date = $1::date AND status = 'hired'),
		        now()
		 ON CONFLICT (date) DO UPDATE SET
		     total_applications   = EXCLUDED.total_applications,
		     new_candidates       = EXCLUDED.new_candidates,
		     interviews_conducted = EXCLUDED.interviews_conducted,
		     offers_extended      = EXCLUDED.offers_extended,
		     hires_completed      = EXCLUDED.hires_completed,
		     updated_at           = now()`,
		day.Format("2006-01-02"),
	)
	if err != nil {
		return fmt.Errorf("failed to roll up daily analytics: %w", err)
	}
	return nil
}

// RollupRecruiterPerformance は[from, to)に作成された応募からperiodのリクルーター実績を
// 再計算してUPSERTし、更新件数を返す。hire_rateは採用数/処理数の百分率。
func (r *PostgresMetricsRepo) RollupRecruiterPerformance(ctx context.Context, period string, from, to time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO recruiter_performance (id, recruiter_id, metric_period, applications_processed,
		                                    interviews_conducted, offers_made, hires_completed, hire_rate)
		 SELECT gen_random_uuid(), a.assigned_recruiter, $1,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE a.status IN ('interview', 'assessment', 'final_interview', 'offer', 'hired')),
		        COUNT(*) FILTER (WHERE a.status IN ('offer', 'hired')),
		        COUNT(*) FILTER (WHERE a.status = 'hired'),
		        ROUND(100.0 * COUNT(*) FILTER (WHERE a.status = 'hired') / COUNT(*), 2)
		 FROM applications a
		 WHERE a.assigned_recruiter IS NOT NULL AND a.created_at >= $2 AND a.created_at < $3
		 GROUP BY a.assigned_recruiter
		 ON CONFLICT (recruiter_id, metric_period) DO UPDATE SET
		     applications_processed = EXCLUDED.applications_processed,
		     interviews_conducted   = EXCLUDED.interviews_conducted,
		     offers_made            = EXCLUDED.offers_made,
		     hires_completed        = EXCLUDED.hires_completed,
		     hire_rate              = EXCLUDED.hire_rate`,
		period, from, to,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to roll up recruiter performance: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count recruiter performance rows: %w", err)
	}
	return n, nil
}

// compile-time interface check
var _ MetricsRepository = (*PostgresMetricsRepo)(nil)
