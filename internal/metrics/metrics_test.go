package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labelValue string) float64 {
	t.Helper()
	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if labelValue == "" || m.GetLabel()[0].GetValue() == labelValue {
				return m.GetCounter().GetValue()
			}
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

// TestRecordAuthAttempt_IncrementsCounterWithLabel は認証試行カウンタが結果ラベル付きで増加することを検証する。
func TestRecordAuthAttempt_IncrementsCounterWithLabel(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("success")
	c.RecordAuthAttempt("success")
	c.RecordAuthAttempt("UNAUTHENTICATED")

	if got := counterValue(t, reg, "authgate_auth_attempts_total", "success"); got != 2 {
		t.Errorf("auth_attempts_total{outcome=success} = %v, want 2", got)
	}
	if got := counterValue(t, reg, "authgate_auth_attempts_total", "UNAUTHENTICATED"); got != 1 {
		t.Errorf("auth_attempts_total{outcome=UNAUTHENTICATED} = %v, want 1", got)
	}
}

// TestRecordAuthLatency_ObservesHistogram は認証レイテンシのヒストグラムに値が記録されることを検証する。
func TestRecordAuthLatency_ObservesHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthLatency(100 * time.Millisecond)
	c.RecordAuthLatency(300 * time.Millisecond)

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_auth_latency_seconds" {
			found = true
			h := mf.GetMetric()[0].GetHistogram()
			if h.GetSampleCount() != 2 {
				t.Errorf("sample_count = %d, want 2", h.GetSampleCount())
			}
			// 合計は0.1 + 0.3 = 0.4秒
			if h.GetSampleSum() < 0.35 || h.GetSampleSum() > 0.45 {
				t.Errorf("sample_sum = %v, want ~0.4", h.GetSampleSum())
			}
		}
	}
	if !found {
		t.Error("authgate_auth_latency_seconds metric not found")
	}
}

// TestRecordRateLimited_IncrementsCounterWithRule はレート制限カウンタがルールラベル付きで増加することを検証する。
func TestRecordRateLimited_IncrementsCounterWithRule(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordRateLimited("auth")
	c.RecordRateLimited("auth")
	c.RecordRateLimited("verification-token")

	if got := counterValue(t, reg, "authgate_rate_limited_total", "auth"); got != 2 {
		t.Errorf("rate_limited_total{rule=auth} = %v, want 2", got)
	}
}

// TestRecordBreakerState_SetsGaugeValue はブレーカー状態ゲージが数値表現で設定されることを検証する。
func TestRecordBreakerState_SetsGaugeValue(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBreakerState("identity-provider", "OPEN")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_breaker_state" {
			found = true
			val := mf.GetMetric()[0].GetGauge().GetValue()
			if val != 2 {
				t.Errorf("breaker_state{dependency=identity-provider} = %v, want 2 (OPEN)", val)
			}
		}
	}
	if !found {
		t.Error("authgate_breaker_state metric not found")
	}

	c.RecordBreakerState("identity-provider", "CLOSED")
	metrics, _ = reg.Gather()
	for _, mf := range metrics {
		if mf.GetName() == "authgate_breaker_state" {
			val := mf.GetMetric()[0].GetGauge().GetValue()
			if val != 0 {
				t.Errorf("breaker_state after CLOSED = %v, want 0", val)
			}
		}
	}
}

// TestRecordBreakerTransition_IncrementsCounter はブレーカー遷移カウンタが増加することを検証する。
func TestRecordBreakerTransition_IncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordBreakerTransition("profile-store", "OPEN")

	metrics, err := reg.Gather()
	if err != nil {
		t.Fatalf("failed to gather metrics: %v", err)
	}

	found := false
	for _, mf := range metrics {
		if mf.GetName() == "authgate_breaker_transitions_total" {
			found = true
			val := mf.GetMetric()[0].GetCounter().GetValue()
			if val != 1 {
				t.Errorf("breaker_transitions_total = %v, want 1", val)
			}
		}
	}
	if !found {
		t.Error("authgate_breaker_transitions_total metric not found")
	}
}

// TestMetricsHandler_ReturnsPrometheusFormat は/metricsエンドポイントがPrometheus形式で返すことを検証する。
func TestMetricsHandler_ReturnsPrometheusFormat(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.RecordAuthAttempt("success")
	c.RecordAuthLatency(50 * time.Millisecond)
	c.RecordRateLimited("general")
	c.RecordBreakerState("identity-provider", "CLOSED")

	handler := Handler(reg)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	body, _ := io.ReadAll(resp.Body)
	bodyStr := string(body)

	expectedMetrics := []string{
		"authgate_auth_attempts_total",
		"authgate_auth_latency_seconds",
		"authgate_rate_limited_total",
		"authgate_breaker_state",
	}
	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("response body does not contain %q", metric)
		}
	}
}

// TestCollector_ImplementsMetricsCollectorInterface はCollectorがMetricsCollectorインターフェースを実装することを検証する。
func TestCollector_ImplementsMetricsCollectorInterface(t *testing.T) {
	reg := prometheus.NewRegistry()
	var _ MetricsCollector = NewCollector(reg)
}
