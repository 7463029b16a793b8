// Package retriever 基于索引存储的检索器。
package retriever

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/retriever"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/storage/vector"
)

// Strategy 检索策略。
type Strategy string

const (
	StrategyEmbedding Strategy = "embedding"
	StrategyGraph     Strategy = "graph"
	StrategyKeyword   Strategy = "keyword"
	StrategyHybrid    Strategy = "hybrid"
)

// ParseStrategy 空串为 embedding。
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyEmbedding, nil
	case StrategyEmbedding, StrategyGraph, StrategyKeyword, StrategyHybrid:
		return st, nil
	}
	return "", fmt.Errorf("unknown retriever strategy: %q", s)
}

// DefaultTopK 默认返回数量
const DefaultTopK = 4

// EmbeddingRetriever 在 IndexStore 上做相似度检索。
type EmbeddingRetriever struct {
	store    vector.IndexStore
	topK     int
	strategy Strategy
	filters  map[string]any
}

// Option 检索器配置。
type Option func(*EmbeddingRetriever)

// WithStrategy 设置检索策略，仅用于标识与回调。
func WithStrategy(s Strategy) Option {
	return func(r *EmbeddingRetriever) { r.strategy = s }
}

// WithDefaultFilters 每次检索都附带的元数据过滤。
func WithDefaultFilters(filters map[string]any) Option {
	return func(r *EmbeddingRetriever) { r.filters = filters }
}

// NewEmbeddingRetriever topK <= 0 时为 DefaultTopK。
func NewEmbeddingRetriever(store vector.IndexStore, topK int, opts ...Option) *EmbeddingRetriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	r := &EmbeddingRetriever{store: store, topK: topK, strategy: StrategyEmbedding}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *EmbeddingRetriever) GetType() string { return "Embedding" }

func (r *EmbeddingRetriever) IsCallbacksEnabled() bool { return true }

// Strategy 检索策略。
func (r *EmbeddingRetriever) Strategy() Strategy { return r.strategy }

// TopK 默认返回数量。
func (r *EmbeddingRetriever) TopK() int { return r.topK }

// Retrieve 不设得分下限。
func (r *EmbeddingRetriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Chunk, error) {
	return r.RetrieveWithScores(ctx, query, 0, opts...)
}

// RetrieveWithScores 仅返回得分不低于 scoreThreshold 的片段，按得分降序，最多 topK 个。
// 选项中的 WithScoreThreshold 优先于参数。
func (r *EmbeddingRetriever) RetrieveWithScores(ctx context.Context, query string, scoreThreshold float64,
	opts ...retriever.Option) (chunks []*schema.Chunk, err error) {

	o := retriever.GetCommonOptions(&retriever.Options{
		TopK:           &r.topK,
		ScoreThreshold: &scoreThreshold,
		Filters:        r.filters,
	}, opts...)
	topK, threshold := *o.TopK, *o.ScoreThreshold

	ctx = callbacks.EnsureRunInfo(ctx, r.GetType(), components.ComponentOfRetriever)
	ctx = callbacks.OnStart(ctx, &retriever.CallbackInput{
		Query:          query,
		TopK:           topK,
		ScoreThreshold: &threshold,
		Filters:        o.Filters,
		Extra:          map[string]any{"strategy": string(r.strategy)},
	})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	found, err := r.store.SimilarSearchWithScores(ctx, query, topK, threshold, o.Filters)
	if err != nil {
		return nil, fmt.Errorf("similar search: %w", err)
	}
	chunks = make([]*schema.Chunk, 0, len(found))
	for _, c := range found {
		if c.Score >= threshold {
			chunks = append(chunks, c)
		}
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	if topK > 0 && len(chunks) > topK {
		chunks = chunks[:topK]
	}

	callbacks.OnEnd(ctx, &retriever.CallbackOutput{Chunks: chunks})
	return chunks, nil
}

// JoinChunks 按各片段的分隔符拼接内容。
func JoinChunks(chunks []*schema.Chunk) string {
	var sb strings.Builder
	for i, c := range chunks {
		if i > 0 {
			sep := c.Separator
			if sep == "" {
				sep = "\n"
			}
			sb.WriteString(sep)
		}
		sb.WriteString(c.Content)
	}
	return sb.String()
}
