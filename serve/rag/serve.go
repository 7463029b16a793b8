package rag

import (
	"context"
	"net/http"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/rag/embedding"
	"github.com/favbox/gptdb/serve/core"
)

// Option Serve 选项。
type Option func(*Serve)

// WithStores 指定三张表的存储，未指定的表按系统配置创建。
func WithStores(stores Stores) Option {
	return func(s *Serve) { s.stores = stores }
}

// WithIndexStoreFactory 指定索引存储工厂，默认见 NewIndexStoreFactory。
func WithIndexStoreFactory(f IndexStoreFactory) Option {
	return func(s *Serve) { s.factory = f }
}

// Serve 知识服务应用。
type Serve struct {
	core.BaseServe
	cfg     ServeConfig
	stores  Stores
	factory IndexStoreFactory
	service *Service
}

// NewServe 创建知识服务应用。
func NewServe(opts ...Option) *Serve {
	s := &Serve{BaseServe: core.BaseServe{AppName: APPName, APIPrefix: APIPrefix}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Serve) Name() string { return ServeAppName }

// InitApp 读取配置，创建存储与向量化模型并注册服务组件。
func (s *Serve) InitApp(sys *component.SystemApp) error {
	if err := core.FromAppConfig(sys.Config(), ServeConfigKeyPrefix, &s.cfg); err != nil {
		return err
	}
	s.APIKeys = s.cfg.APIKeys

	ctx := context.Background()
	var err error
	if s.stores.Spaces == nil {
		if s.stores.Spaces, err = core.NewStore[SpaceEntity](ctx, sys, SpaceTableName); err != nil {
			return err
		}
	}
	if s.stores.Documents == nil {
		if s.stores.Documents, err = core.NewStore[DocumentEntity](ctx, sys, DocumentTableName); err != nil {
			return err
		}
	}
	if s.stores.Chunks == nil {
		if s.stores.Chunks, err = core.NewStore[ChunkEntity](ctx, sys, ChunkTableName); err != nil {
			return err
		}
	}
	if s.factory == nil {
		f := &embedding.Factory{OpenAI: embedding.OpenAIConfig{
			APIKey:  s.cfg.EmbeddingAPIKey,
			APIBase: s.cfg.EmbeddingAPIBase,
		}}
		embedder, err := f.Create(s.cfg.EmbeddingModel)
		if err != nil {
			return err
		}
		s.factory = NewIndexStoreFactory(sys, embedder, &s.cfg)
	}
	s.service = NewService(s.stores, s.factory, &s.cfg)
	return sys.RegisterAs(ServeServiceComponentName, s.service)
}

// Service InitApp 之后可用。
func (s *Serve) Service() *Service { return s.service }

// BeforeStop 等待后台同步结束。
func (s *Serve) BeforeStop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.service.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mount 挂载路由。
func (s *Serve) Mount(mux *http.ServeMux, metrics *core.HTTPMetrics) {
	rt := s.NewRouter(mux, metrics)
	h := &handlers{svc: s.service}
	rt.Handle(http.MethodPost, "/spaces", h.createSpace)
	rt.Handle(http.MethodPut, "/spaces", h.updateSpace)
	rt.Handle(http.MethodGet, "/spaces", h.spacePage)
	rt.Handle(http.MethodGet, "/spaces/{id}", h.getSpace)
	rt.Handle(http.MethodDelete, "/spaces/{id}", h.deleteSpace)
	rt.Handle(http.MethodPost, "/spaces/{id}/retrieve", h.retrieve)
	rt.Handle(http.MethodPost, "/documents", h.createDocument)
	rt.Handle(http.MethodGet, "/documents", h.documentPage)
	rt.Handle(http.MethodPost, "/documents/sync", h.syncDocuments)
	rt.Handle(http.MethodGet, "/documents/{id}", h.getDocument)
	rt.Handle(http.MethodDelete, "/documents/{id}", h.deleteDocument)
	rt.Handle(http.MethodGet, "/documents/{id}/chunks", h.documentChunks)
	rt.Handle(http.MethodGet, "/knowledge/config", h.knowledgeConfig)
}
