package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/config"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/util/gptdbs"
)

type options struct {
	client   llm.LLMClient
	logger   *slog.Logger
	registry *prometheus.Registry
}

// Option App 选项。
type Option func(*options)

// WithLLMClient 使用给定客户端代替按配置创建的代理客户端。
func WithLLMClient(c llm.LLMClient) Option {
	return func(o *options) { o.client = c }
}

// WithLogger 默认按配置调用 logging.Setup。
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetricsRegistry 默认新建注册表。
func WithMetricsRegistry(r *prometheus.Registry) Option {
	return func(o *options) { o.registry = r }
}

// App 组装完成的 gptdb 进程。
type App struct {
	Config  *config.Config
	System  *component.SystemApp
	Handler http.Handler

	close func()
}

// New 依次写入配置、连接数据库、注册模型并初始化服务应用。
// 模型客户端创建失败时只记录告警，依赖模型的接口在调用时报错。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logging.Setup(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
	}
	if o.registry == nil {
		o.registry = prometheus.NewRegistry()
		o.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	sys := component.NewSystemApp(component.WithLogger(o.logger))
	ApplyConfig(sys.Config(), cfg)

	closeDB, err := OpenDatabases(ctx, sys, cfg.Database)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, System: sys, close: closeDB}

	client := o.client
	if client == nil {
		if client, err = NewModelClient(ctx, cfg.Model); err != nil {
			o.logger.Warn("model client unavailable", slog.String("model", cfg.Model.Name), slog.Any("error", err))
		}
	}
	if client != nil {
		if err = RegisterModel(sys, cfg.Model.Name, client); err != nil {
			a.Close()
			return nil, err
		}
	}

	callbacks.AppendGlobalHandlers(awel.NewMetricsHandler(o.registry))
	mounters, err := InitializeServeApps(sys, ServeOptions{
		Packages: NewPackageSource(gptdbs.NewManager(cfg.Home, gptdbs.WithLogger(o.logger))),
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	mux := http.NewServeMux()
	metrics := core.NewHTTPMetrics(o.registry)
	for _, m := range mounters {
		m.Mount(mux, metrics)
	}
	mux.Handle("GET /metrics", promhttp.HandlerFor(o.registry, promhttp.HandlerOpts{}))
	a.Handler = mux
	return a, nil
}

// Close 关闭数据库连接。
func (a *App) Close() {
	if a.close != nil {
		a.close()
		a.close = nil
	}
}
