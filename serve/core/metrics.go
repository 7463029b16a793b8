package core

import "github.com/prometheus/client_golang/prometheus"

// HTTPMetrics serve 接口的请求计数与耗时。
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

// NewHTTPMetrics 创建并注册指标，reg 为 nil 时使用默认注册表。
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gptdb_serve_requests_total",
			Help: "Total serve API requests",
		}, []string{"app", "method", "route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gptdb_serve_request_duration_seconds",
			Help:    "Serve API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"app", "route"}),
	}
	reg.MustRegister(m.requests, m.latency)
	return m
}
