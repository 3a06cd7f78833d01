package worker

import "time"

// Backoff は連続失敗したジョブの再実行を遅らせる指数バックオフ。
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff は初回1分、最大1時間のバックオフを返す。
func DefaultBackoff() Backoff {
	return Backoff{Initial: time.Minute, Max: time.Hour}
}

// Delay は連続エラー回数に基づいて遅延を計算する。
// 初回Initial、2倍ずつ増加、最大Max。
func (b Backoff) Delay(consecutiveErrors int) time.Duration {
	delay := b.Initial
	for i := 0; i < consecutiveErrors; i++ {
		delay *= 2
		if delay > b.Max {
			return b.Max
		}
	}
	return delay
}
