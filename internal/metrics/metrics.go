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
// プールAPIクライアントやサービス層から利用する。
type MetricsCollector interface {
	RecordUpstreamRequest(operation string, statusCode int, duration time.Duration)
	RecordServiceCache(hit bool)
	RecordPoolAction(action string, result string)
	RecordLogoFetch(result string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	upstreamRequests *prometheus.CounterVec
	upstreamLatency  *prometheus.HistogramVec
	serviceCache     *prometheus.CounterVec
	poolActions      *prometheus.CounterVec
	logoFetches      *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		upstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subshare_upstream_requests_total",
			Help: "プールAPIへのリクエスト数（操作・ステータス別）",
		}, []string{"operation", "status_code"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "subshare_upstream_latency_seconds",
			Help:    "プールAPIリクエストのレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		serviceCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subshare_service_cache_total",
			Help: "サービス情報キャッシュの参照数",
		}, []string{"result"}),
		poolActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subshare_pool_actions_total",
			Help: "プール操作（参加・脱退・作成）の結果別件数",
		}, []string{"action", "result"}),
		logoFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subshare_logo_fetch_total",
			Help: "ロゴ取得の結果別件数",
		}, []string{"result"}),
	}

	reg.MustRegister(
		c.upstreamRequests,
		c.upstreamLatency,
		c.serviceCache,
		c.poolActions,
		c.logoFetches,
	)

	return c
}

// RecordUpstreamRequest はプールAPIへの1リクエストを記録する。
// 通信自体が失敗した場合、statusCodeは0になる。
func (c *Collector) RecordUpstreamRequest(operation string, statusCode int, duration time.Duration) {
	c.upstreamRequests.WithLabelValues(operation, strconv.Itoa(statusCode)).Inc()
	c.upstreamLatency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordServiceCache はサービス情報キャッシュのヒット・ミスを記録する。
func (c *Collector) RecordServiceCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	c.serviceCache.WithLabelValues(result).Inc()
}

// RecordPoolAction はプール操作の結果を記録する。
func (c *Collector) RecordPoolAction(action string, result string) {
	c.poolActions.WithLabelValues(action, result).Inc()
}

// RecordLogoFetch はロゴ取得の結果を記録する。
func (c *Collector) RecordLogoFetch(result string) {
	c.logoFetches.WithLabelValues(result).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// NopCollector は何も記録しないMetricsCollector。
// テストやメトリクス未設定時に使う。
type NopCollector struct{}

func (NopCollector) RecordUpstreamRequest(string, int, time.Duration) {}
func (NopCollector) RecordServiceCache(bool)                          {}
func (NopCollector) RecordPoolAction(string, string)                  {}
func (NopCollector) RecordLogoFetch(string)                           {}
