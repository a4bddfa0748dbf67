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
// テナントキャッシュ、ハッシュプール、OAuth、HTTP層から利用する。
type MetricsCollector interface {
	RecordTenantCacheHit()
	RecordTenantCacheMiss()
	RecordTenantConnectionOpened()
	RecordTenantConnectionDiscarded()
	ObserveBlockingJob(kind string, d time.Duration)
	RecordConsent(outcome string)
	RecordTokenGrant(grantType, result string)
	RecordHTTPStatus(statusCode int)
	RecordCleanupDeleted(target string, count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	tenantLookups     *prometheus.CounterVec
	tenantConnections *prometheus.CounterVec
	blockingJobs      *prometheus.HistogramVec
	consent           *prometheus.CounterVec
	tokenGrants       *prometheus.CounterVec
	httpStatus        *prometheus.CounterVec
	cleanupDeleted    *prometheus.CounterVec
}

var _ MetricsCollector = (*Collector)(nil)

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		tenantLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_tenant_cache_lookups_total",
			Help: "テナント接続キャッシュの参照数（hit/miss別）",
		}, []string{"result"}),
		tenantConnections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_tenant_connections_total",
			Help: "テナントDB接続のオープン数と競合で破棄された数",
		}, []string{"event"}),
		blockingJobs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rhodos_blocking_job_duration_seconds",
			Help:    "ブロッキングプールで実行したジョブの所要時間（秒）",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"kind"}),
		consent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_oauth_consent_total",
			Help: "同意判定の結果別件数",
		}, []string{"outcome"}),
		tokenGrants: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_oauth_token_grants_total",
			Help: "トークンエンドポイントのグラント種別・結果別件数",
		}, []string{"grant_type", "result"}),
		httpStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_http_status_total",
			Help: "HTTPステータスコード別のレスポンス数",
		}, []string{"status_code"}),
		cleanupDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rhodos_cleanup_deleted_total",
			Help: "クリーンアップで削除した行数（対象別）",
		}, []string{"target"}),
	}

	reg.MustRegister(
		c.tenantLookups,
		c.tenantConnections,
		c.blockingJobs,
		c.consent,
		c.tokenGrants,
		c.httpStatus,
		c.cleanupDeleted,
	)

	return c
}

// RecordTenantCacheHit はキャッシュヒットを記録する。
func (c *Collector) RecordTenantCacheHit() {
	c.tenantLookups.WithLabelValues("hit").Inc()
}

// RecordTenantCacheMiss はキャッシュミスを記録する。
func (c *Collector) RecordTenantCacheMiss() {
	c.tenantLookups.WithLabelValues("miss").Inc()
}

// RecordTenantConnectionOpened はテナントDB接続のオープンを記録する。
func (c *Collector) RecordTenantConnectionOpened() {
	c.tenantConnections.WithLabelValues("opened").Inc()
}

// RecordTenantConnectionDiscarded は競合で不要になった接続の破棄を記録する。
func (c *Collector) RecordTenantConnectionDiscarded() {
	c.tenantConnections.WithLabelValues("discarded").Inc()
}

// ObserveBlockingJob はブロッキングジョブの所要時間を記録する。blocking.Observerとして渡す。
func (c *Collector) ObserveBlockingJob(kind string, d time.Duration) {
	c.blockingJobs.WithLabelValues(kind).Observe(d.Seconds())
}

// RecordConsent は同意判定の結果を記録する。
func (c *Collector) RecordConsent(outcome string) {
	c.consent.WithLabelValues(outcome).Inc()
}

// RecordTokenGrant はトークン発行の結果を記録する。
func (c *Collector) RecordTokenGrant(grantType, result string) {
	c.tokenGrants.WithLabelValues(grantType, result).Inc()
}

// RecordHTTPStatus はHTTPステータスコードを記録する。
func (c *Collector) RecordHTTPStatus(statusCode int) {
	c.httpStatus.WithLabelValues(strconv.Itoa(statusCode)).Inc()
}

// RecordCleanupDeleted はクリーンアップで削除した行数を記録する。
func (c *Collector) RecordCleanupDeleted(target string, count int64) {
	c.cleanupDeleted.WithLabelValues(target).Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
