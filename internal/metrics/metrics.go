// Package metrics 提供周期指标，写出为 node-exporter textfile 或通过 HTTP 暴露。
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kalshi-weather/internal/apperr"
	"kalshi-weather/internal/cycle"
)

const namespace = "kwx"

// Metrics 持有独立的注册表，避免与默认注册表互相污染。
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleErrors   *prometheus.CounterVec
	settlements   *prometheus.CounterVec
	cycleDuration prometheus.Gauge
	lastCycle     prometheus.Gauge
	balance       prometheus.Gauge
	edge          prometheus.Gauge
	totalPnL      prometheus.Gauge
	streak        prometheus.Gauge

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

// New 创建并注册全部指标。
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Cycles completed, partitioned by outcome and mode",
		}, []string{"outcome", "live"}),
		cycleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycle_errors_total",
			Help:      "Cycles aborted by an error, partitioned by step and kind",
		}, []string{"step", "kind"}),
		settlements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settlements_total",
			Help:      "Ledger entries settled, partitioned by outcome",
		}, []string{"outcome"}),
		cycleDuration: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of the last cycle",
		}),
		lastCycle: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle started",
		}),
		balance: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "balance_cents",
			Help:      "Account balance observed by the last cycle",
		}),
		edge: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "decision_edge_points",
			Help:      "Confidence-weighted edge of the last decision",
		}),
		totalPnL: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_total_pnl_cents",
			Help:      "Realised P&L across the ledger",
		}),
		streak: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ledger_current_streak",
			Help:      "Signed win/loss streak, negative for losses",
		}),
		httpRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Monitor HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Monitor HTTP request duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}, []string{"method", "path"}),
	}
}

// Registry 返回底层注册表。
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle 记录一次周期结果。
func (m *Metrics) ObserveCycle(res cycle.Result, err error) {
	m.cycles.WithLabelValues(string(res.Outcome), strconv.FormatBool(res.Live)).Inc()
	if err != nil {
		m.cycleErrors.WithLabelValues(string(res.StoppedAt), string(apperr.KindOf(err))).Inc()
	}
	for _, e := range res.Settled {
		m.settlements.WithLabelValues(string(e.Outcome)).Inc()
	}

	m.cycleDuration.Set(res.Elapsed.Seconds())
	if !res.StartedAt.IsZero() {
		m.lastCycle.Set(float64(res.StartedAt.Unix()))
	}
	m.balance.Set(float64(res.BalanceCents))
	if res.Decision != nil {
		m.edge.Set(res.Decision.EdgePoints)
	}
	m.totalPnL.Set(float64(res.Stats.TotalPnLCents))
	m.streak.Set(float64(res.Stats.CurrentStreak))
}

// WriteTextfile 原子写出 textfile，path 为空时不写。
func (m *Metrics) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

// Handler 返回本注册表的指标处理器。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware 记录 HTTP 请求指标。
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		m.httpRequests.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(wrapped.status)).Inc()
		m.httpDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
