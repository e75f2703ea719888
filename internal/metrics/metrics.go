// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// バックエンドクライアント、セッション管理、サービス層、HTTP層から利用する。
type MetricsCollector interface {
	ObserveBackendCall(operation string, outcome string, duration time.Duration)
	RecordJoinOutcome(outcome string)
	RecordSessionTransition(state string)
	RecordHTTPStatus(statusCode int)
	RecordImageUpload(bucket string, size int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	backendCalls       *prometheus.CounterVec
	backendLatency     *prometheus.HistogramVec
	joinOutcomes       *prometheus.CounterVec
	sessionTransitions *prometheus.CounterVec
	httpStatus         *prometheus.CounterVec
	imageUploadBytes   *prometheus.HistogramVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		backendCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volunteerhub_backend_calls_total",
			Help: "バックエンド呼び出しの操作別・結果別の合計数",
		}, []string{"operation", "outcome"}),
		backendLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "volunteerhub_backend_latency_seconds",
			Help:    "バックエンド呼び出しのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		joinOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volunteerhub_join_outcomes_total",
			Help: "イベント参加操作の結果別の合計数",
		}, []string{"outcome"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volunteerhub_session_transitions_total",
			Help: "セッション状態遷移の遷移先別の合計数",
		}, []string{"state"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "volunteerhub_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		imageUploadBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "volunteerhub_image_upload_bytes",
			Help:    "アップロードした画像のサイズ（バイト）",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 6),
		}, []string{"bucket"}),
	}

	reg.MustRegister(
		c.backendCalls,
		c.backendLatency,
		c.joinOutcomes,
		c.sessionTransitions,
		c.httpStatus,
		c.imageUploadBytes,
	)

	return c
}

// ObserveBackendCall はバックエンド呼び出しの結果とレイテンシを記録する。
func (c *Collector) ObserveBackendCall(operation string, outcome string, duration time.Duration) {
	c.backendCalls.WithLabelValues(operation, outcome).Inc()
	c.backendLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordJoinOutcome はイベント参加操作の結果を記録する。
// outcomeは "ok" またはエラー分類（capacity, conflict など）。
func (c *Collector) RecordJoinOutcome(outcome string) {
	c.joinOutcomes.WithLabelValues(outcome).Inc()
}

// RecordSessionTransition はセッション状態の遷移を記録する。
func (c *Collector) RecordSessionTransition(state string) {
	c.sessionTransitions.WithLabelValues(state).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordImageUpload はアップロードした画像のサイズを記録する。
func (c *Collector) RecordImageUpload(bucket string, size int) {
	c.imageUploadBytes.WithLabelValues(bucket).Observe(float64(size))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// compile-time interface check
var _ MetricsCollector = (*Collector)(nil)
