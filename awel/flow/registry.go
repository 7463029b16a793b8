package flow

import (
	"context"
	"fmt"
	"sync"

	deepcopy "github.com/tiendc/go-deepcopy"

	"github.com/favbox/gptdb/awel"
)

// Params 已校验并转换的参数值，资源参数已解析为组件实例。
type Params map[string]any

// String 读取字符串参数。
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Int 读取整数参数。
func (p Params) Int(name string) int {
	n, _ := p[name].(int)
	return n
}

// Float 读取浮点参数。
func (p Params) Float(name string) float64 {
	f, _ := p[name].(float64)
	return f
}

// Bool 读取布尔参数。
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Has 参数是否有值。
func (p Params) Has(name string) bool {
	return p[name] != nil
}

// Factory 按参数创建算子实例，opts 携带节点 ID 与名称。
type Factory func(ctx context.Context, params Params, opts ...awel.OperatorOption) (awel.Operator, error)

type registration struct {
	meta    *ViewMetadata
	factory Factory
}

// Registry 可在流程中使用的算子注册表。
type Registry struct {
	mu    sync.RWMutex
	items map[string]*registration
	order []string
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{items: make(map[string]*registration)}
}

// Register 注册算子，名称重复时返回错误。
func (r *Registry) Register(meta ViewMetadata, factory Factory) error {
	if err := meta.Validate(); err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("operator '%s' factory is nil", meta.Name)
	}
	if meta.OperatorType == "" {
		meta.OperatorType = awel.OperatorTypeMap
	}
	if meta.Version == "" {
		meta.Version = "v1"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[meta.Name]; ok {
		return fmt.Errorf("operator '%s' already registered", meta.Name)
	}
	r.items[meta.Name] = &registration{meta: &meta, factory: factory}
	r.order = append(r.order, meta.Name)
	return nil
}

// MustRegister 注册失败时 panic，用于进程初始化。
func (r *Registry) MustRegister(meta ViewMetadata, factory Factory) {
	if err := r.Register(meta, factory); err != nil {
		panic(err)
	}
}

// Get 按名称返回元数据副本与工厂。
func (r *Registry) Get(name string) (*ViewMetadata, Factory, bool) {
	r.mu.RLock()
	reg, ok := r.items[name]
	r.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	meta, err := copyMetadata(reg.meta)
	if err != nil {
		return nil, nil, false
	}
	return meta, reg.factory, true
}

// List 按注册顺序返回元数据副本，category 为空时返回全部。
func (r *Registry) List(category OperatorCategory) ([]*ViewMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*ViewMetadata, 0, len(r.order))
	for _, name := range r.order {
		reg := r.items[name]
		if category != "" && reg.meta.Category != category {
			continue
		}
		meta, err := copyMetadata(reg.meta)
		if err != nil {
			return nil, err
		}
		out = append(out, meta)
	}
	return out, nil
}

func copyMetadata(src *ViewMetadata) (*ViewMetadata, error) {
	var dst ViewMetadata
	if err := deepcopy.Copy(&dst, *src); err != nil {
		return nil, fmt.Errorf("copy metadata of '%s': %w", src.Name, err)
	}
	return &dst, nil
}
