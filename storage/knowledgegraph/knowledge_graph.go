// Package knowledgegraph 基于 LLM 抽取三元组的知识图谱索引。
package knowledgegraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/storage/graph"
	"github.com/favbox/gptdb/storage/vector"
)

// Config BuiltinKnowledgeGraph 配置。
type Config struct {
	// Name 图名称，例如 graph_rag_test
	Name      string
	LLMClient llm.LLMClient
	ModelName string
	// GraphStore 为空时使用进程内图
	GraphStore graph.Store
	// MaxConcurrency 并行抽取的片段数，默认 4
	MaxConcurrency int
	MaxTriplets    int
	MaxKeywords    int
	// ExploreDepth 检索时的探索深度，默认 3
	ExploreDepth int
}

// BuiltinKnowledgeGraph 实现 vector.IndexStore：写入时抽取三元组，检索时以关键词探索子图。
type BuiltinKnowledgeGraph struct {
	cfg   Config
	store graph.Store
	ext   *extractor

	mu      sync.Mutex
	byChunk map[string][]graph.Triplet
}

// NewBuiltinKnowledgeGraph 需要名称与 LLM 客户端。
func NewBuiltinKnowledgeGraph(cfg Config) (*BuiltinKnowledgeGraph, error) {
	if cfg.Name == "" {
		return nil, errors.New("knowledge graph name is required")
	}
	if cfg.LLMClient == nil {
		return nil, errors.New("knowledge graph requires an llm client")
	}
	if cfg.GraphStore == nil {
		cfg.GraphStore = graph.NewMemoryStore()
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.MaxTriplets <= 0 {
		cfg.MaxTriplets = 10
	}
	if cfg.MaxKeywords <= 0 {
		cfg.MaxKeywords = 10
	}
	if cfg.ExploreDepth <= 0 {
		cfg.ExploreDepth = 3
	}
	return &BuiltinKnowledgeGraph{
		cfg:   cfg,
		store: cfg.GraphStore,
		ext: &extractor{
			client:      cfg.LLMClient,
			model:       cfg.ModelName,
			maxTriplets: cfg.MaxTriplets,
			maxKeywords: cfg.MaxKeywords,
		},
		byChunk: make(map[string][]graph.Triplet),
	}, nil
}

// Name 图名称。
func (kg *BuiltinKnowledgeGraph) Name() string { return kg.cfg.Name }

func (kg *BuiltinKnowledgeGraph) Load(ctx context.Context, chunks []*schema.Chunk) ([]string, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(kg.cfg.MaxConcurrency)
	for _, c := range chunks {
		g.Go(func() error {
			triplets, err := kg.ext.triplets(gctx, c.Content)
			if err != nil {
				return fmt.Errorf("chunk %s: %w", c.ChunkID, err)
			}
			for _, t := range triplets {
				if err = kg.store.InsertTriplet(gctx, t); err != nil {
					return err
				}
			}
			kg.mu.Lock()
			kg.byChunk[c.ChunkID] = append(kg.byChunk[c.ChunkID], triplets...)
			kg.mu.Unlock()
			logging.FromContext(ctx).Debug("triplets extracted",
				slog.String("graph", kg.cfg.Name), slog.String("chunk", c.ChunkID), slog.Int("count", len(triplets)))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(chunks))
	for _, c := range chunks {
		ids = append(ids, c.ChunkID)
	}
	return ids, nil
}

// SimilarSearchWithScores 返回至多一个片段，内容为子图文本，得分固定为 1.0。
func (kg *BuiltinKnowledgeGraph) SimilarSearchWithScores(ctx context.Context, text string, topK int, threshold float64, _ map[string]any) ([]*schema.Chunk, error) {
	keywords, err := kg.ext.keywords(ctx, text)
	if err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	limit := 0
	if topK > 0 {
		limit = topK * 10
	}
	sub, err := kg.store.Explore(ctx, keywords, graph.ExploreOptions{
		Direction: graph.DirectionBoth,
		Depth:     kg.cfg.ExploreDepth,
		Limit:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("explore graph: %w", err)
	}
	if sub.Empty() || threshold > 1.0 {
		return nil, nil
	}
	c := schema.NewChunk(sub.Format(), map[string]any{
		"graph":    kg.cfg.Name,
		"keywords": keywords,
		"edges":    len(sub.Edges),
	})
	return []*schema.Chunk{c.WithScore(1.0)}, nil
}

// DeleteByIDs 删除由这些片段抽取出的三元组。
func (kg *BuiltinKnowledgeGraph) DeleteByIDs(ctx context.Context, ids []string) error {
	kg.mu.Lock()
	defer kg.mu.Unlock()
	for _, id := range ids {
		for _, t := range kg.byChunk[id] {
			if err := kg.store.DeleteTriplet(ctx, t); err != nil {
				return err
			}
		}
		delete(kg.byChunk, id)
	}
	return nil
}

func (kg *BuiltinKnowledgeGraph) DeleteVectorName(ctx context.Context, _ string) error {
	kg.mu.Lock()
	kg.byChunk = make(map[string][]graph.Triplet)
	kg.mu.Unlock()
	return kg.store.Drop(ctx)
}

func (kg *BuiltinKnowledgeGraph) VectorNameExists(context.Context) (bool, error) {
	kg.mu.Lock()
	defer kg.mu.Unlock()
	return len(kg.byChunk) > 0, nil
}

var _ vector.IndexStore = (*BuiltinKnowledgeGraph)(nil)
