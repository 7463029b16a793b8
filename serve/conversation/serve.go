package conversation

import (
	"context"
	"net/http"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/serve/core"
)

// Option Serve 选项。
type Option func(*Serve)

// WithStores 指定存储，未指定的表按系统配置创建。
func WithStores(stores Stores) Option {
	return func(s *Serve) { s.stores = stores }
}

// WithLLMClient 指定补全所用客户端，默认取 component.DefaultLLMClientName 组件。
func WithLLMClient(client llm.LLMClient) Option {
	return func(s *Serve) { s.client = client }
}

// Serve 对话服务应用。
type Serve struct {
	core.BaseServe
	cfg     ServeConfig
	stores  Stores
	client  llm.LLMClient
	service *Service
}

// NewServe 创建对话服务应用。
func NewServe(opts ...Option) *Serve {
	s := &Serve{BaseServe: core.BaseServe{AppName: APPName, APIPrefix: APIPrefix}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Serve) Name() string { return ServeAppName }

// InitApp 读取配置、创建存储并注册服务组件。
func (s *Serve) InitApp(sys *component.SystemApp) error {
	if err := core.FromAppConfig(sys.Config(), ServeConfigKeyPrefix, &s.cfg); err != nil {
		return err
	}
	s.APIKeys = s.cfg.APIKeys

	ctx := context.Background()
	var err error
	if s.stores.Conversations == nil {
		if s.stores.Conversations, err = core.NewStore[ConversationEntity](ctx, sys, ConversationTableName); err != nil {
			return err
		}
	}
	if s.stores.Messages == nil {
		if s.stores.Messages, err = core.NewStore[MessageEntity](ctx, sys, MessageTableName); err != nil {
			return err
		}
	}
	if s.client == nil {
		s.client = component.GetComponentOr[llm.LLMClient](sys, component.DefaultLLMClientName, nil)
	}
	if s.service, err = NewService(s.stores, s.client, sys, &s.cfg); err != nil {
		return err
	}
	return sys.RegisterAs(ServeServiceComponentName, s.service)
}

// Service InitApp 之后可用。
func (s *Serve) Service() *Service { return s.service }

// Mount 挂载路由。
func (s *Serve) Mount(mux *http.ServeMux, metrics *core.HTTPMetrics) {
	rt := s.NewRouter(mux, metrics)
	h := &handlers{svc: s.service}
	rt.Handle(http.MethodPost, "/new", h.create)
	rt.Handle(http.MethodGet, "/list", h.list)
	rt.Handle(http.MethodGet, "/{conv_uid}/messages", h.messages)
	rt.Handle(http.MethodDelete, "/{conv_uid}", h.delete)
	rt.HandleRaw(http.MethodPost, "/completions", http.HandlerFunc(h.completions))
}
