// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hitoshi/talentstrike/internal/session"
)

// MetricsCollector はメトリクス収集のインターフェース。
// セッション管理、HTTPミドルウェア、ワーカー、リアルタイム配信から利用する。
type MetricsCollector interface {
	session.Observer
	RecordHTTPStatus(statusCode int)
	RecordJobRun(job, outcome string)
	RecordJobLatency(job string, duration time.Duration)
	RecordRealtimeNotification(channel string)
	SetRealtimeSubscribers(channel string, n int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authEvents          *prometheus.CounterVec
	authOperations      *prometheus.CounterVec
	profileLoads        *prometheus.CounterVec
	staleProfiles       prometheus.Counter
	activeSessions      prometheus.Gauge
	httpStatus          *prometheus.CounterVec
	jobRuns             *prometheus.CounterVec
	jobLatency          *prometheus.HistogramVec
	realtimeNotify      *prometheus.CounterVec
	realtimeSubscribers *prometheus.GaugeVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_auth_events_total",
			Help: "種類別の認証状態変更イベント数",
		}, []string{"event"}),
		authOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_auth_operations_total",
			Help: "認証操作の結果別の件数",
		}, []string{"operation", "outcome"}),
		profileLoads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_profile_loads_total",
			Help: "結果別のプロフィールロード数",
		}, []string{"outcome"}),
		staleProfiles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "talentstrike_profile_loads_discarded_total",
			Help: "新しいイベントに置き換えられて破棄されたプロフィールロード数",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "talentstrike_active_session_contexts",
			Help: "メモリ上のSession Context数",
		}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_worker_job_runs_total",
			Help: "ワーカージョブの結果別の実行回数",
		}, []string{"job", "outcome"}),
		jobLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "talentstrike_worker_job_duration_seconds",
			Help:    "ワーカージョブの実行時間（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		realtimeNotify: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "talentstrike_realtime_notifications_total",
			Help: "チャネル別の変更通知受信数",
		}, []string{"channel"}),
		realtimeSubscribers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "talentstrike_realtime_subscribers",
			Help: "チャネル別のストリーム購読者数",
		}, []string{"channel"}),
	}

	reg.MustRegister(
		c.authEvents,
		c.authOperations,
		c.profileLoads,
		c.staleProfiles,
		c.activeSessions,
		c.httpStatus,
		c.jobRuns,
		c.jobLatency,
		c.realtimeNotify,
		c.realtimeSubscribers,
	)

	return c
}

// RecordAuthEvent は認証状態変更イベントを記録する。
func (c *Collector) RecordAuthEvent(event string) {
	c.authEvents.WithLabelValues(event).Inc()
}

// RecordAuthOperation はサインイン等の操作結果を記録する。
func (c *Collector) RecordAuthOperation(operation, outcome string) {
	c.authOperations.WithLabelValues(operation, outcome).Inc()
}

// RecordProfileLoad はプロフィールロードの結果を記録する。
func (c *Collector) RecordProfileLoad(outcome string) {
	c.profileLoads.WithLabelValues(outcome).Inc()
}

// RecordStaleProfileDiscarded は破棄されたプロフィールロードを記録する。
func (c *Collector) RecordStaleProfileDiscarded() {
	c.staleProfiles.Inc()
}

// SetActiveSessions はSession Context数を設定する。
func (c *Collector) SetActiveSessions(n int) {
	c.activeSessions.Set(float64(n))
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordJobRun はワーカージョブの実行結果を記録する。
func (c *Collector) RecordJobRun(job, outcome string) {
	c.jobRuns.WithLabelValues(job, outcome).Inc()
}

// RecordJobLatency はワーカージョブの実行時間を記録する。
func (c *Collector) RecordJobLatency(job string, duration time.Duration) {
	c.jobLatency.WithLabelValues(job).Observe(duration.Seconds())
}

// RecordRealtimeNotification は変更通知の受信を記録する。
func (c *Collector) RecordRealtimeNotification(channel string) {
	c.realtimeNotify.WithLabelValues(channel).Inc()
}

// SetRealtimeSubscribers はチャネルの購読者数を設定する。
func (c *Collector) SetRealtimeSubscribers(channel string, n int) {
	c.realtimeSubscribers.WithLabelValues(channel).Set(float64(n))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
