// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// オーケストレーターやミドルウェアから利用する。
type MetricsCollector interface {
	RecordAuthAttempt(outcome string)
	RecordAuthLatency(duration time.Duration)
	RecordRateLimited(rule string)
	RecordBreakerState(dependency string, state string)
	RecordBreakerTransition(dependency string, to string)
}

// breakerStateValue はゲージに載せるブレーカー状態の数値表現。
func breakerStateValue(state string) float64 {
	switch state {
	case "OPEN":
		return 2
	case "HALF_OPEN":
		return 1
	default:
		return 0
	}
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	authAttempts       *prometheus.CounterVec
	authLatency        prometheus.Histogram
	rateLimited        *prometheus.CounterVec
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		authAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_auth_attempts_total",
			Help: "認証試行の結果別合計数",
		}, []string{"outcome"}),
		authLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "authgate_auth_latency_seconds",
			Help:    "認証試行のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		rateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_rate_limited_total",
			Help: "レート制限で拒否されたリクエストのルール別合計数",
		}, []string{"rule"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "authgate_breaker_state",
			Help: "サーキットブレーカーの現在状態（0=CLOSED, 1=HALF_OPEN, 2=OPEN）",
		}, []string{"dependency"}),
		breakerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_breaker_transitions_total",
			Help: "サーキットブレーカーの状態遷移の合計数",
		}, []string{"dependency", "to"}),
	}

	reg.MustRegister(
		c.authAttempts,
		c.authLatency,
		c.rateLimited,
		c.breakerState,
		c.breakerTransitions,
	)

	return c
}

// RecordAuthAttempt は認証試行の結果を記録する。
// outcomeは"success"またはエラー分類（UNAUTHENTICATED等）。
func (c *Collector) RecordAuthAttempt(outcome string) {
	c.authAttempts.WithLabelValues(outcome).Inc()
}

// RecordAuthLatency は認証試行のレイテンシを記録する。
func (c *Collector) RecordAuthLatency(duration time.Duration) {
	c.authLatency.Observe(duration.Seconds())
}

// RecordRateLimited はレート制限による拒否を記録する。
func (c *Collector) RecordRateLimited(rule string) {
	c.rateLimited.WithLabelValues(rule).Inc()
}

// RecordBreakerState はブレーカーの現在状態をゲージに反映する。
func (c *Collector) RecordBreakerState(dependency string, state string) {
	c.breakerState.WithLabelValues(dependency).Set(breakerStateValue(state))
}

// RecordBreakerTransition はブレーカーの状態遷移を記録する。
func (c *Collector) RecordBreakerTransition(dependency string, to string) {
	c.breakerTransitions.WithLabelValues(dependency, to).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
