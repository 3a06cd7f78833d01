// Package cleanup は期限切れの認証セッション行を削除するジョブを提供する。
// 保持期間（デフォルト30日）より長く更新されていないauth_sessionsを
// 定期バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays は認証セッションのデフォルト保持日数。
const DefaultRetentionDays = 30

// SessionStore は古いセッション行を削除できるストア。
// repository.AuthSessionRepository が満たす。
type SessionStore interface {
	DeleteStale(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は保持期間を超過した認証セッションの自動削除ジョブ。
// 削除対象がない場合でもエラーにならない。
type CleanupJob struct {
	store         SessionStore
	logger        *slog.Logger
	RetentionDays int // セッションの保持日数（デフォルト: 30）
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// retentionDaysが0以下の場合はデフォルトの30日を使用する。
func NewCleanupJob(store SessionStore, logger *slog.Logger, retentionDays int) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		store:         store,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Name はジョブ名を返す。
func (j *CleanupJob) Name() string { return "session_cleanup" }

// Run はRetentionDays日より前に更新されたセッションを削除する。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := j.now()
	before := start.UTC().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.store.DeleteStale(ctx, before)
	if err != nil {
		j.logger.Error("セッションクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("セッションクリーンアップの実行に失敗: %w", err)
	}

	j.logger.Info("セッションクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("before", before),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return nil
}
