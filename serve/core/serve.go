package core

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/storage/metadata"
)

// MetadataDBName 元数据库组件名，注册值须实现 metadata.Querier（如 *pgxpool.Pool）。
const MetadataDBName = "gptdb_metadata_db"

// Mounter 可挂载 HTTP 路由的 serve 应用。
type Mounter interface {
	component.Component
	Mount(mux *http.ServeMux, metrics *HTTPMetrics)
}

// BaseServe serve 应用的公共字段。
type BaseServe struct {
	AppName   string
	APIPrefix string
	APIKeys   string
}

// NewRouter 以应用前缀与 API key 鉴权创建路由，并挂载健康检查。
func (b *BaseServe) NewRouter(mux *http.ServeMux, metrics *HTTPMetrics) *Router {
	rt := NewRouter(mux, b.AppName, b.APIPrefix, metrics, CheckAPIKey(b.APIKeys))
	MountHealth(rt)
	return rt
}

// NewStore 注册了元数据库时使用 Postgres 表 table，否则使用内存存储。
func NewStore[E any](ctx context.Context, sys *component.SystemApp, table string) (metadata.Store[E], error) {
	db, err := component.GetComponentAs[metadata.Querier](sys, MetadataDBName)
	if err != nil {
		sys.Logger().Debug("metadata db not registered, using memory store", slog.String("table", table))
		return metadata.NewMemoryStore[E]()
	}
	s, err := metadata.NewPGStore[E](db, table)
	if err != nil {
		return nil, err
	}
	if err = s.EnsureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
