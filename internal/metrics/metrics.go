// Package metrics はログイン関連の Prometheus メトリクスを提供します。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ログイン試行の結果ラベル
const (
	ResultSuccess   = "success"
	ResultMalformed = "malformed"
	ResultInvalid   = "invalid"
	ResultThrottled = "throttled"
	ResultError     = "error"
)

// Metrics はメトリクスの集合です。nil の場合は何も記録しません。
type Metrics struct {
	registry         *prometheus.Registry
	loginAttempts    *prometheus.CounterVec
	logouts          prometheus.Counter
	sessionsRejected *prometheus.CounterVec
}

// New は専用のレジストリにメトリクスを登録して返します。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "university",
			Name:      "login_attempts_total",
			Help:      "Login attempts by result.",
		}, []string{"result"}),
		logouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "university",
			Name:      "logouts_total",
			Help:      "Completed logouts.",
		}),
		sessionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "university",
			Name:      "sessions_rejected_total",
			Help:      "Session cookies rejected on guarded routes by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.loginAttempts,
		m.logouts,
		m.sessionsRejected,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// LoginAttempt はログイン試行を記録します。
func (m *Metrics) LoginAttempt(result string) {
	if m == nil {
		return
	}
	m.loginAttempts.WithLabelValues(result).Inc()
}

// Logout はログアウトを記録します。
func (m *Metrics) Logout() {
	if m == nil {
		return
	}
	m.logouts.Inc()
}

// SessionRejected はガードで拒否されたセッションを記録します。
func (m *Metrics) SessionRejected(reason string) {
	if m == nil {
		return
	}
	m.sessionsRejected.WithLabelValues(reason).Inc()
}

// Handler は /metrics 用のハンドラーを返します。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
