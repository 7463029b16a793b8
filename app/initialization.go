// Package app 组装 SystemApp：写入配置、注册模型与数据库组件、初始化各服务应用并提供 HTTP 服务。
package app

import (
	"context"
	"net/http"
	"strings"

	"github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/config"
	"github.com/favbox/gptdb/model/operators"
	"github.com/favbox/gptdb/rag/retriever"
	"github.com/favbox/gptdb/serve/conversation"
	"github.com/favbox/gptdb/serve/core"
	serveflow "github.com/favbox/gptdb/serve/flow"
	"github.com/favbox/gptdb/serve/prompt"
	"github.com/favbox/gptdb/serve/rag"
)

// GlobalLanguageKey 全局语言配置项
const GlobalLanguageKey = "gptdb.app.global.language"

// DefaultUser 提示词的默认用户与系统编码。
const DefaultUser = "gptdb"

// Mounter 可挂载路由的服务应用。
type Mounter interface {
	Mount(mux *http.ServeMux, metrics *core.HTTPMetrics)
}

// ApplyConfig 将进程配置写入 SystemApp 配置，serve.<app> 下显式配置的值优先。
func ApplyConfig(ac *component.AppConfig, cfg *config.Config) {
	for k, v := range cfg.ServeValues() {
		ac.Set(k, v)
	}
	ac.Set(GlobalLanguageKey, cfg.Language)
	if len(cfg.APIKeys) > 0 {
		ac.Set(core.GlobalAPIKeysKey, strings.Join(cfg.APIKeys, ","))
	}

	setDefault(ac, prompt.ServeConfigKeyPrefix+"default_user", DefaultUser)
	setDefault(ac, prompt.ServeConfigKeyPrefix+"default_sys_code", DefaultUser)
	setDefault(ac, conversation.ServeConfigKeyPrefix+"default_model", cfg.Model.Name)
	setDefault(ac, rag.ServeConfigKeyPrefix+"default_model", cfg.Model.Name)
	setDefault(ac, rag.ServeConfigKeyPrefix+"embedding_model", cfg.Embedding.Model)
	setDefault(ac, rag.ServeConfigKeyPrefix+"embedding_api_key", cfg.Embedding.APIKey)
	setDefault(ac, rag.ServeConfigKeyPrefix+"embedding_api_base", cfg.Embedding.APIBase)
}

func setDefault(ac *component.AppConfig, key string, value any) {
	if _, ok := ac.Get(key); !ok {
		ac.Set(key, value)
	}
}

// ServeOptions InitializeServeApps 的可选依赖。
type ServeOptions struct {
	// Packages 已安装的 gptdbs 流程包，为 nil 时不启用定时加载
	Packages serveflow.PackageSource
}

// InitializeServeApps 注册算子元数据与 flow、rag、prompt、conversation 服务应用，按挂载顺序返回。
func InitializeServeApps(sys *component.SystemApp, opts ServeOptions) ([]Mounter, error) {
	reg := flow.NewRegistry()
	if err := flow.RegisterBuiltins(reg); err != nil {
		return nil, err
	}
	if err := retriever.RegisterFlowOperators(reg); err != nil {
		return nil, err
	}
	if err := operators.RegisterFlowOperators(reg, sys); err != nil {
		return nil, err
	}
	if err := sys.RegisterAs(component.FlowRegistryName, reg); err != nil {
		return nil, err
	}

	flowOpts := []serveflow.Option{serveflow.WithResourceResolver(resourceResolver(sys))}
	if opts.Packages != nil {
		flowOpts = append(flowOpts, serveflow.WithPackageSource(opts.Packages))
	}
	apps := []interface {
		component.Component
		Mounter
	}{
		rag.NewServe(),
		serveflow.NewServe(flowOpts...),
		prompt.NewServe(nil),
		conversation.NewServe(),
	}

	mounters := make([]Mounter, 0, len(apps))
	for _, a := range apps {
		if err := sys.Register(a); err != nil {
			return nil, err
		}
		mounters = append(mounters, a)
	}
	return mounters, nil
}

// resourceResolver Retriever 资源优先按知识空间解析，其余按组件名查找。
func resourceResolver(sys *component.SystemApp) flow.ResourceResolver {
	return flow.ResourceResolverFunc(func(ctx context.Context, resourceType, ref string) (any, error) {
		if resourceType == string(components.ComponentOfRetriever) {
			if svc, err := component.GetComponentAs[*rag.Service](sys, rag.ServeServiceComponentName); err == nil {
				if r, err := svc.SpaceRetriever(ctx, ref); err == nil {
					return r, nil
				}
			}
		}
		return sys.ResolveResource(ctx, resourceType, ref)
	})
}
