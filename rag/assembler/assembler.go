/*
 * assembler.go - 知识入库
 *
 * 加载知识 -> 切分 -> 分批写入索引存储（向量库或知识图谱）-> 生成检索器。
 */

// Package assembler 将知识切分并写入索引存储。
package assembler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/rag/chunk"
	"github.com/favbox/gptdb/rag/knowledge"
	"github.com/favbox/gptdb/rag/retriever"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/storage/vector"
)

const (
	defaultBatchSize   = 64
	defaultConcurrency = 4
)

// EmbeddingAssembler 一份知识的入库流程。
type EmbeddingAssembler struct {
	knowledge   knowledge.Knowledge
	store       vector.IndexStore
	manager     *chunk.Manager
	chunks      []*schema.Chunk
	strategy    retriever.Strategy
	batchSize   int
	concurrency int
	persisted   bool
}

// Option 入库配置。
type Option func(*EmbeddingAssembler)

// WithRetrieverStrategy AsRetriever 生成的检索器所用策略。
func WithRetrieverStrategy(s retriever.Strategy) Option {
	return func(a *EmbeddingAssembler) { a.strategy = s }
}

// WithBatch 每批片段数与并发批数。
func WithBatch(size, concurrency int) Option {
	return func(a *EmbeddingAssembler) {
		if size > 0 {
			a.batchSize = size
		}
		if concurrency > 0 {
			a.concurrency = concurrency
		}
	}
}

// LoadFromKnowledge 加载并切分知识，此时尚未写入存储。
func LoadFromKnowledge(ctx context.Context, k knowledge.Knowledge, params chunk.Parameters,
	store vector.IndexStore, opts ...Option) (*EmbeddingAssembler, error) {

	if k == nil || store == nil {
		return nil, errors.New("knowledge and index store are required")
	}
	manager, err := chunk.NewManager(params)
	if err != nil {
		return nil, err
	}
	a := &EmbeddingAssembler{
		knowledge:   k,
		store:       store,
		manager:     manager,
		strategy:    retriever.StrategyEmbedding,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}

	docs, err := k.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load knowledge %s: %w", k.Source(), err)
	}
	a.chunks, err = manager.Split(docs)
	if err != nil {
		return nil, fmt.Errorf("split knowledge %s: %w", k.Source(), err)
	}
	logging.FromContext(ctx).Info("knowledge loaded",
		slog.String("source", k.Source()),
		slog.Int("documents", len(docs)),
		slog.Int("chunks", len(a.chunks)))
	return a, nil
}

// Chunks 切分结果。
func (a *EmbeddingAssembler) Chunks() []*schema.Chunk { return a.chunks }

// Knowledge 来源知识。
func (a *EmbeddingAssembler) Knowledge() knowledge.Knowledge { return a.knowledge }

// Persist 分批并发写入存储，返回的 ID 与 Chunks 顺序一致。
func (a *EmbeddingAssembler) Persist(ctx context.Context) ([]string, error) {
	batches := (len(a.chunks) + a.batchSize - 1) / a.batchSize
	results := make([][]string, batches)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i := 0; i < batches; i++ {
		start := i * a.batchSize
		end := min(start+a.batchSize, len(a.chunks))
		g.Go(func() error {
			ids, err := a.store.Load(gctx, a.chunks[start:end])
			if err != nil {
				return fmt.Errorf("persist batch %d: %w", i, err)
			}
			results[i] = ids
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(a.chunks))
	for _, r := range results {
		ids = append(ids, r...)
	}
	a.persisted = true
	logging.FromContext(ctx).Info("knowledge persisted",
		slog.String("source", a.knowledge.Source()),
		slog.Int("batches", batches),
		slog.Int("ids", len(ids)))
	return ids, nil
}

// AsRetriever 在同一存储上检索，topK <= 0 时使用默认值。
func (a *EmbeddingAssembler) AsRetriever(topK int) *retriever.EmbeddingRetriever {
	return retriever.NewEmbeddingRetriever(a.store, topK, retriever.WithStrategy(a.strategy))
}

// Persisted 是否已写入存储。
func (a *EmbeddingAssembler) Persisted() bool { return a.persisted }
