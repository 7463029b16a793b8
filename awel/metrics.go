package awel

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/schema"
)

type metricsStartKey struct{}

// MetricsHandler 以回调方式记录算子执行次数、失败次数与耗时，只处理 Operator 组件。
type MetricsHandler struct {
	callbacks.Handler
	runs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetricsHandler 创建并注册指标，reg 为 nil 时使用 prometheus.DefaultRegisterer。
func NewMetricsHandler(reg prometheus.Registerer) *MetricsHandler {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &MetricsHandler{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gptdb_awel_node_runs_total",
			Help: "Total AWEL operator executions by operator type and status.",
		}, []string{"operator_type", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gptdb_awel_node_duration_seconds",
			Help:    "AWEL operator execution latency.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"operator_type"}),
	}
	reg.MustRegister(m.runs, m.duration)

	m.Handler = callbacks.NewHandlerBuilder().
		ForComponents(components.ComponentOfOperator).
		OnStartFn(markStart).
		OnStartWithStreamInputFn(func(ctx context.Context, info *callbacks.RunInfo,
			input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
			input.Close()
			return markStart(ctx, info, nil)
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			m.observe(ctx, info, "success")
			return ctx
		}).
		OnEndWithStreamOutputFn(func(ctx context.Context, info *callbacks.RunInfo,
			output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
			output.Close()
			m.observe(ctx, info, "success")
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, _ error) context.Context {
			m.observe(ctx, info, "failure")
			return ctx
		}).
		Build()
	return m
}

func (m *MetricsHandler) Needed(ctx context.Context, info *callbacks.RunInfo, timing callbacks.CallbackTiming) bool {
	tc, ok := m.Handler.(callbacks.TimingChecker)
	return !ok || tc.Needed(ctx, info, timing)
}

func markStart(ctx context.Context, _ *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
	return context.WithValue(ctx, metricsStartKey{}, time.Now())
}

func (m *MetricsHandler) observe(ctx context.Context, info *callbacks.RunInfo, status string) {
	m.runs.WithLabelValues(info.Type, status).Inc()
	if start, ok := ctx.Value(metricsStartKey{}).(time.Time); ok {
		m.duration.WithLabelValues(info.Type).Observe(time.Since(start).Seconds())
	}
}
