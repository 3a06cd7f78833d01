// Package worker はバックグラウンドジョブの定期実行を提供する。
// ジョブごとに失敗回数を数え、連続して失敗したジョブは指数バックオフで実行を見送る。
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultMaxConcurrency = 4

// Job はスケジューラから定期実行されるジョブ。
type Job interface {
	// Name はメトリクスとログに使うジョブ名を返す。
	Name() string
	// Run はジョブを1回実行する。
	Run(ctx context.Context) error
}

// Observer はジョブの実行結果を受け取る。
type Observer interface {
	RecordJobRun(job, outcome string)
	RecordJobLatency(job string, duration time.Duration)
}

type noopObserver struct{}

func (noopObserver) RecordJobRun(string, string)            {}
func (noopObserver) RecordJobLatency(string, time.Duration) {}

// ジョブの実行結果
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

type jobState struct {
	consecutiveErrors int
	nextRunAt         time.Time
}

// Scheduler はジョブ群を一定間隔で実行する。
// semaphoreパターンで同時実行数を制御する。
type Scheduler struct {
	jobs           []Job
	logger         *slog.Logger
	observer       Observer
	maxConcurrency int
	backoff        Backoff
	now            func() time.Time

	mu    sync.Mutex
	state map[string]*jobState
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。observerはnil可。
func NewScheduler(logger *slog.Logger, observer Observer, maxConcurrency int, jobs ...Job) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	if observer == nil {
		observer = noopObserver{}
	}
	state := make(map[string]*jobState, len(jobs))
	for _, j := range jobs {
		state[j.Name()] = &jobState{}
	}
	return &Scheduler{
		jobs:           jobs,
		logger:         logger,
		observer:       observer,
		maxConcurrency: maxConcurrency,
		backoff:        DefaultBackoff(),
		now:            time.Now,
		state:          state,
	}
}

// Start はintervalごとにRunOnceを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ジョブスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("job_count", len(s.jobs)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ジョブスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("ジョブサイクルでエラーが発生しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce は実行時刻に達したジョブを並列に1回ずつ実行する。
// バックオフ中のジョブは見送る。失敗したジョブのエラーをまとめて返す。
func (s *Scheduler) RunOnce(ctx context.Context) error {
	start := s.now()

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error

	for _, job := range s.jobs {
		if !s.due(job.Name(), start) {
			s.observer.RecordJobRun(job.Name(), OutcomeSkipped)
			continue
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(j Job) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.run(ctx, j); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", j.Name(), err))
				mu.Unlock()
			}
		}(job)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (s *Scheduler) run(ctx context.Context, j Job) error {
	start := s.now()
	err := j.Run(ctx)
	elapsed := s.now().Sub(start)
	s.observer.RecordJobLatency(j.Name(), elapsed)

	s.mu.Lock()
	st := s.state[j.Name()]
	if err != nil {
		st.consecutiveErrors++
		st.nextRunAt = s.now().Add(s.backoff.Delay(st.consecutiveErrors - 1))
	} else {
		st.consecutiveErrors = 0
		st.nextRunAt = time.Time{}
	}
	failures := st.consecutiveErrors
	next := st.nextRunAt
	s.mu.Unlock()

	if err != nil {
		s.observer.RecordJobRun(j.Name(), OutcomeFailure)
		s.logger.Error("ジョブの実行に失敗しました",
			slog.String("job", j.Name()),
			slog.Int("consecutive_errors", failures),
			slog.Time("next_run_at", next),
			slog.String("error", err.Error()),
		)
		return err
	}

	s.observer.RecordJobRun(j.Name(), OutcomeSuccess)
	s.logger.Info("ジョブが完了しました",
		slog.String("job", j.Name()),
		slog.Float64("duration_ms", float64(elapsed.Milliseconds())),
	)
	return nil
}

func (s *Scheduler) due(name string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !now.Before(s.state[name].nextRunAt)
}
