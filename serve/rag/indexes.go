package rag

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/embedding"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/storage/knowledgegraph"
	"github.com/favbox/gptdb/storage/vector"
)

// VectorDBName 向量库组件名，注册值为 lib/pq 打开的 *sql.DB。
const VectorDBName = "gptdb_vector_db"

// IndexStoreFactory 为知识空间打开索引存储，model 仅对知识图谱有效。
type IndexStoreFactory func(ctx context.Context, space *SpaceEntity, model string) (vector.IndexStore, error)

// NewIndexStoreFactory 向量空间在注册了 VectorDBName 时使用 Postgres，否则使用进程内存储；
// 知识图谱空间使用 component.DefaultLLMClientName 组件抽取三元组。
func NewIndexStoreFactory(sys *component.SystemApp, embedder embedding.Embedder, cfg *ServeConfig) IndexStoreFactory {
	return func(ctx context.Context, space *SpaceEntity, model string) (vector.IndexStore, error) {
		switch space.VectorType {
		case VectorTypeKnowledgeGraph:
			client, err := component.GetComponentAs[llm.LLMClient](sys, component.DefaultLLMClientName)
			if err != nil {
				return nil, fmt.Errorf("knowledge graph space '%s': %w", space.Name, err)
			}
			if model == "" {
				model = cfg.DefaultModel
			}
			return knowledgegraph.NewBuiltinKnowledgeGraph(knowledgegraph.Config{
				Name:           space.Name,
				LLMClient:      client,
				ModelName:      model,
				MaxConcurrency: cfg.MaxThreads,
			})
		default:
			db, err := component.GetComponentAs[*sql.DB](sys, VectorDBName)
			if err != nil {
				return vector.NewMemoryStore(space.Name, embedder), nil
			}
			s := vector.NewPGStore(db, space.Name, embedder)
			if err = s.EnsureSchema(ctx); err != nil {
				return nil, err
			}
			return s, nil
		}
	}
}

// indexCache 按空间名缓存已打开的索引存储。
type indexCache struct {
	factory IndexStoreFactory

	mu     sync.Mutex
	stores map[string]vector.IndexStore
}

func newIndexCache(factory IndexStoreFactory) *indexCache {
	return &indexCache{factory: factory, stores: make(map[string]vector.IndexStore)}
}

// get 首次打开后模型不再变化。
func (c *indexCache) get(ctx context.Context, space *SpaceEntity, model string) (vector.IndexStore, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.stores[space.Name]; ok {
		return s, nil
	}
	s, err := c.factory(ctx, space, model)
	if err != nil {
		return nil, err
	}
	c.stores[space.Name] = s
	return s, nil
}

func (c *indexCache) forget(name string) {
	c.mu.Lock()
	delete(c.stores, name)
	c.mu.Unlock()
}
