package flow

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	awelflow "github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/internal/safe"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// Option Serve 选项。
type Option func(*Serve)

// WithStore 指定流程存储，默认按系统配置创建。
func WithStore(store metadata.Store[Entity]) Option {
	return func(s *Serve) { s.store = store }
}

// WithPackageSource 启用已安装流程包的定时加载。
func WithPackageSource(src PackageSource) Option {
	return func(s *Serve) { s.packages = src }
}

// WithResourceResolver 解析算子资源参数，默认按组件名从 SystemApp 查找。
func WithResourceResolver(r awelflow.ResourceResolver) Option {
	return func(s *Serve) { s.resources = r }
}

// Serve 流程服务应用。
type Serve struct {
	core.BaseServe
	cfg       ServeConfig
	store     metadata.Store[Entity]
	packages  PackageSource
	resources awelflow.ResourceResolver
	service   *Service
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewServe 创建流程服务应用。
func NewServe(opts ...Option) *Serve {
	s := &Serve{BaseServe: core.BaseServe{AppName: APPName, APIPrefix: APIPrefix}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Serve) Name() string { return ServeAppName }

// InitApp 读取配置并创建服务；系统中没有算子注册表时注册一个只含内置算子的注册表。
func (s *Serve) InitApp(sys *component.SystemApp) error {
	s.cfg.LoadGptdbsInterval = DefaultLoadInterval
	if err := core.FromAppConfig(sys.Config(), ServeConfigKeyPrefix, &s.cfg); err != nil {
		return err
	}
	s.APIKeys = s.cfg.APIKeys
	s.logger = sys.Logger()

	reg, err := component.GetComponentAs[*awelflow.Registry](sys, component.FlowRegistryName)
	if err != nil {
		reg = awelflow.NewRegistry()
		if err = awelflow.RegisterBuiltins(reg); err != nil {
			return err
		}
		if err = sys.RegisterAs(component.FlowRegistryName, reg); err != nil {
			return err
		}
	}
	if s.store == nil {
		if s.store, err = core.NewStore[Entity](context.Background(), sys, TableName); err != nil {
			return err
		}
	}
	if s.resources == nil {
		s.resources = awelflow.ResourceResolverFunc(sys.ResolveResource)
	}
	s.service = NewService(s.store, reg, s.resources, &s.cfg)
	return sys.RegisterAs(ServeServiceComponentName, s.service)
}

// Service InitApp 之后可用。
func (s *Serve) Service() *Service { return s.service }

// BeforeStart 部署已保存的流程。
func (s *Serve) BeforeStart(ctx context.Context) error {
	return s.service.LoadFromDB(ctx)
}

// AfterStart 启动流程包定时加载。
func (s *Serve) AfterStart(context.Context) error {
	if s.packages == nil || s.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel, s.done = cancel, make(chan struct{})
	interval := time.Duration(s.cfg.LoadGptdbsInterval) * time.Second
	if interval <= 0 {
		interval = DefaultLoadInterval * time.Second
	}
	safe.Go(func() {
		defer close(s.done)
		s.loadLoop(ctx, interval)
	}, func(err error) {
		s.logger.Error("flow package loader panicked", slog.Any("error", err))
	})
	return nil
}

func (s *Serve) loadLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := s.service.LoadPackages(ctx, s.packages); err != nil {
			s.logger.Warn("load flow packages failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// BeforeStop 停止定时加载并等待退出。
func (s *Serve) BeforeStop(ctx context.Context) error {
	if s.cancel == nil {
		return nil
	}
	s.cancel()
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.cancel = nil
	return nil
}

// Mount 挂载路由。
func (s *Serve) Mount(mux *http.ServeMux, metrics *core.HTTPMetrics) {
	rt := s.NewRouter(mux, metrics)
	h := &handlers{svc: s.service}
	rt.Handle(http.MethodPost, "/flows", h.create)
	rt.Handle(http.MethodPut, "/flows", h.update)
	rt.Handle(http.MethodGet, "/flows", h.page)
	rt.Handle(http.MethodGet, "/flows/{uid}", h.get)
	rt.Handle(http.MethodDelete, "/flows/{uid}", h.delete)
	rt.HandleRaw(http.MethodPost, "/flows/{uid}/run", http.HandlerFunc(h.run))
	rt.Handle(http.MethodGet, "/nodes", h.nodes)
}
