package proxy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/favbox/gptdb/components/llm"
)

// ProviderConfig 创建代理客户端所需的通用配置。
type ProviderConfig struct {
	APIKey  string
	APIBase string
}

// CreatorFunc 按模型名称创建客户端。
type CreatorFunc func(ctx context.Context, model string, cfg ProviderConfig) (llm.LLMClient, error)

type providerEntry struct {
	name     string
	patterns []*regexp.Regexp
	creator  CreatorFunc
}

// Registry 代理客户端注册表，可按服务类型名或模型名正则查找。
type Registry struct {
	mu      sync.RWMutex
	entries []*providerEntry
}

// NewRegistry 创建空注册表。
func NewRegistry() *Registry {
	return &Registry{}
}

// Register 注册服务类型，patterns 为模型名正则，会被补全为整串匹配。
func (r *Registry) Register(name string, patterns []string, creator CreatorFunc) error {
	e := &providerEntry{name: strings.ToLower(name), creator: creator}
	for _, p := range patterns {
		re, err := regexp.Compile("^" + strings.TrimSuffix(strings.TrimPrefix(p, "^"), "$") + "$")
		if err != nil {
			return fmt.Errorf("compile model pattern %q: %w", p, err)
		}
		e.patterns = append(e.patterns, re)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.entries {
		if old.name == e.name {
			r.entries[i] = e
			return nil
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

// Resolve 优先按 serverType 查找，为空时按模型名匹配。
func (r *Registry) Resolve(serverType, model string) (string, CreatorFunc, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if serverType != "" {
		st := strings.ToLower(serverType)
		for _, e := range r.entries {
			if e.name == st {
				return e.name, e.creator, nil
			}
		}
		return "", nil, fmt.Errorf("unknown proxy server type: %s", serverType)
	}
	for _, e := range r.entries {
		for _, re := range e.patterns {
			if re.MatchString(model) {
				return e.name, e.creator, nil
			}
		}
	}
	return "", nil, fmt.Errorf("no proxy client registered for model: %s", model)
}

// NewClient 按服务类型或模型名创建客户端。
func (r *Registry) NewClient(ctx context.Context, serverType, model string, cfg ProviderConfig) (llm.LLMClient, error) {
	_, creator, err := r.Resolve(serverType, model)
	if err != nil {
		return nil, err
	}
	return creator(ctx, model, cfg)
}

// Names 已注册的服务类型。
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		names = append(names, e.name)
	}
	return names
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// DefaultRegistry 带有内置服务类型的注册表。
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
		registerBuiltins(defaultRegistry)
	})
	return defaultRegistry
}

func registerBuiltins(r *Registry) {
	_ = r.Register("openai", []string{`gpt-.*`, `o[0-9].*`, defaultOpenAIAlias},
		func(_ context.Context, model string, cfg ProviderConfig) (llm.LLMClient, error) {
			return NewOpenAILLMClient(&OpenAIConfig{APIKey: cfg.APIKey, APIBase: cfg.APIBase, Model: aliasToModel(model, defaultOpenAIAlias)})
		})
	_ = r.Register("moonshot", []string{`moonshot-.*`, defaultMoonshotAlias},
		func(_ context.Context, model string, cfg ProviderConfig) (llm.LLMClient, error) {
			return NewMoonshotLLMClient(&OpenAIConfig{APIKey: cfg.APIKey, APIBase: cfg.APIBase, Model: aliasToModel(model, defaultMoonshotAlias)})
		})
	_ = r.Register("claude", []string{`claude-.*`, defaultClaudeAlias},
		func(_ context.Context, model string, cfg ProviderConfig) (llm.LLMClient, error) {
			return NewClaudeLLMClient(&ClaudeConfig{APIKey: cfg.APIKey, APIBase: cfg.APIBase, Model: aliasToModel(model, defaultClaudeAlias)})
		})
}

// aliasToModel 别名交给客户端使用默认模型。
func aliasToModel(model, alias string) string {
	if model == alias {
		return ""
	}
	return model
}
