package component

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/favbox/gptdb/internal/generic"
	"github.com/favbox/gptdb/internal/logging"
)

// 内置组件名称
const (
	// WorkerManagerFactory 模型 worker manager 工厂
	WorkerManagerFactory = "worker_manager_factory"
	// DefaultLLMClientName 默认 LLM 客户端
	DefaultLLMClientName = "default_llm_client"
	// FlowRegistryName 算子元数据注册表
	FlowRegistryName = "awel_flow_registry"
)

var (
	// ErrComponentNotFound 组件未注册。
	ErrComponentNotFound = errors.New("component not found")
	// ErrComponentExists 同名组件已注册。
	ErrComponentExists = errors.New("component already registered")
)

// Component 可注册到 SystemApp 的组件。
type Component interface {
	Name() string
}

// Initializer 注册时回调。
type Initializer interface {
	InitApp(sys *SystemApp) error
}

// BeforeStarter 服务启动前回调。
type BeforeStarter interface {
	BeforeStart(ctx context.Context) error
}

// AfterStarter 服务启动后回调。
type AfterStarter interface {
	AfterStart(ctx context.Context) error
}

// BeforeStopper 服务停止前回调。
type BeforeStopper interface {
	BeforeStop(ctx context.Context) error
}

type entry struct {
	name  string
	value any
}

// SystemApp 组件注册表与全局配置。
type SystemApp struct {
	config *AppConfig
	logger *slog.Logger

	mu      sync.RWMutex
	byName  map[string]*entry
	ordered []*entry
}

// Option SystemApp 选项。
type Option func(*SystemApp)

// WithConfig 使用已有的配置存储。
func WithConfig(cfg *AppConfig) Option {
	return func(s *SystemApp) { s.config = cfg }
}

// WithLogger 指定日志。
func WithLogger(logger *slog.Logger) Option {
	return func(s *SystemApp) { s.logger = logger }
}

// NewSystemApp 创建 SystemApp。
func NewSystemApp(opts ...Option) *SystemApp {
	s := &SystemApp{byName: make(map[string]*entry)}
	for _, opt := range opts {
		opt(s)
	}
	if s.config == nil {
		s.config = NewAppConfig(nil)
	}
	if s.logger == nil {
		s.logger = logging.L()
	}
	return s
}

// Config 全局配置。
func (s *SystemApp) Config() *AppConfig { return s.config }

// Logger 日志。
func (s *SystemApp) Logger() *slog.Logger { return s.logger }

// Register 注册组件并立即调用其 InitApp。
func (s *SystemApp) Register(c Component) error {
	return s.RegisterAs(c.Name(), c)
}

// RegisterAs 以指定名称注册任意值，例如 LLM 客户端。
func (s *SystemApp) RegisterAs(name string, value any) error {
	if name == "" {
		return errors.New("component name is required")
	}
	s.mu.Lock()
	if _, ok := s.byName[name]; ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrComponentExists, name)
	}
	e := &entry{name: name, value: value}
	s.byName[name] = e
	s.ordered = append(s.ordered, e)
	s.mu.Unlock()

	if init, ok := value.(Initializer); ok {
		if err := init.InitApp(s); err != nil {
			s.remove(name)
			return fmt.Errorf("init component '%s': %w", name, err)
		}
	}
	s.logger.Debug("component registered", slog.String("name", name))
	return nil
}

// Replace 注册或替换同名组件，不触发 InitApp。
func (s *SystemApp) Replace(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.byName[name]; ok {
		e.value = value
		return
	}
	e := &entry{name: name, value: value}
	s.byName[name] = e
	s.ordered = append(s.ordered, e)
}

func (s *SystemApp) remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byName, name)
	for i, e := range s.ordered {
		if e.name == name {
			s.ordered = append(s.ordered[:i], s.ordered[i+1:]...)
			break
		}
	}
}

// GetComponent 按名称查找组件。
func (s *SystemApp) GetComponent(name string) (any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrComponentNotFound, name)
	}
	return e.value, nil
}

// Components 按注册顺序返回组件名。
func (s *SystemApp) Components() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.ordered))
	for _, e := range s.ordered {
		names = append(names, e.name)
	}
	return names
}

// GetComponentAs 查找组件并断言为 T。
func GetComponentAs[T any](s *SystemApp, name string) (T, error) {
	var zero T
	v, err := s.GetComponent(name)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("component '%s' is %T, not %v", name, v, generic.TypeOf[T]())
	}
	return t, nil
}

// GetComponentOr 查找组件，缺失或类型不符时返回 def。
func GetComponentOr[T any](s *SystemApp, name string, def T) T {
	t, err := GetComponentAs[T](s, name)
	if err != nil {
		return def
	}
	return t
}

func (s *SystemApp) snapshot() []*entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*entry(nil), s.ordered...)
}

// BeforeStart 按注册顺序调用 BeforeStart，遇错即停。
func (s *SystemApp) BeforeStart(ctx context.Context) error {
	for _, e := range s.snapshot() {
		if h, ok := e.value.(BeforeStarter); ok {
			if err := h.BeforeStart(ctx); err != nil {
				return fmt.Errorf("before start '%s': %w", e.name, err)
			}
		}
	}
	return nil
}

// AfterStart 按注册顺序调用 AfterStart，遇错即停。
func (s *SystemApp) AfterStart(ctx context.Context) error {
	for _, e := range s.snapshot() {
		if h, ok := e.value.(AfterStarter); ok {
			if err := h.AfterStart(ctx); err != nil {
				return fmt.Errorf("after start '%s': %w", e.name, err)
			}
		}
	}
	return nil
}

// BeforeStop 按注册顺序调用 BeforeStop，错误只记录日志，所有组件都会被调用。
func (s *SystemApp) BeforeStop(ctx context.Context) error {
	var errs []error
	for _, e := range s.snapshot() {
		if h, ok := e.value.(BeforeStopper); ok {
			if err := h.BeforeStop(ctx); err != nil {
				s.logger.Warn("before stop failed", slog.String("name", e.name), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("before stop '%s': %w", e.name, err))
			}
		}
	}
	return errors.Join(errs...)
}

// ResolveResource 将资源引用解析为组件，先按名称，再按 "类型:名称" 查找。
func (s *SystemApp) ResolveResource(_ context.Context, resourceType, ref string) (any, error) {
	if v, err := s.GetComponent(ref); err == nil {
		return v, nil
	}
	v, err := s.GetComponent(resourceType + ":" + ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s resource '%s': %w", resourceType, ref, err)
	}
	return v, nil
}
