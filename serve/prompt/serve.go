package prompt

import (
	"context"
	"net/http"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// Serve 提示词服务应用。
type Serve struct {
	core.BaseServe
	cfg     ServeConfig
	store   metadata.Store[Entity]
	service *Service
}

// NewServe store 为 nil 时在 InitApp 中按系统配置创建。
func NewServe(store metadata.Store[Entity]) *Serve {
	return &Serve{
		BaseServe: core.BaseServe{AppName: APPName, APIPrefix: APIPrefix},
		store:     store,
	}
}

func (s *Serve) Name() string { return ServeAppName }

// InitApp 读取配置、创建存储并注册服务组件。
func (s *Serve) InitApp(sys *component.SystemApp) error {
	if err := core.FromAppConfig(sys.Config(), ServeConfigKeyPrefix, &s.cfg); err != nil {
		return err
	}
	s.APIKeys = s.cfg.APIKeys
	if s.store == nil {
		store, err := core.NewStore[Entity](context.Background(), sys, TableName)
		if err != nil {
			return err
		}
		s.store = store
	}
	s.service = NewService(s.store, &s.cfg)
	return sys.RegisterAs(ServeServiceComponentName, s.service)
}

// Service InitApp 之后可用。
func (s *Serve) Service() *Service { return s.service }

// Mount 挂载路由。
func (s *Serve) Mount(mux *http.ServeMux, metrics *core.HTTPMetrics) {
	rt := s.NewRouter(mux, metrics)
	h := &handlers{svc: s.service}
	rt.Handle(http.MethodPost, "/prompts", h.create)
	rt.Handle(http.MethodPut, "/prompts", h.update)
	rt.Handle(http.MethodGet, "/prompts", h.page)
	rt.Handle(http.MethodPost, "/prompts/list", h.list)
	rt.Handle(http.MethodPost, "/prompts/query", h.query)
	rt.Handle(http.MethodPost, "/prompts/render", h.render)
	rt.Handle(http.MethodGet, "/prompts/{id}", h.get)
	rt.Handle(http.MethodDelete, "/prompts/{id}", h.delete)
}
