// Package vector 向量索引存储：进程内实现与基于 PostgreSQL float8[] 的实现。
package vector

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/favbox/gptdb/components/embedding"
	"github.com/favbox/gptdb/schema"
)

// ErrEmbeddingMismatch 向量化结果与输入数量不一致。
var ErrEmbeddingMismatch = errors.New("embedding count mismatch")

// IndexStore 知识片段的索引存储，向量库与知识图谱均实现该接口。
type IndexStore interface {
	// Load 写入片段，返回片段 ID
	Load(ctx context.Context, chunks []*schema.Chunk) ([]string, error)
	// SimilarSearchWithScores 返回得分不低于 threshold 的前 topK 个片段，按得分降序
	SimilarSearchWithScores(ctx context.Context, text string, topK int, threshold float64, filters map[string]any) ([]*schema.Chunk, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	// DeleteVectorName 删除整个集合
	DeleteVectorName(ctx context.Context, name string) error
	// VectorNameExists 当前集合是否已有数据
	VectorNameExists(ctx context.Context) (bool, error)
}

// embedChunks 为缺少向量的片段计算向量。
func embedChunks(ctx context.Context, embedder embedding.Embedder, chunks []*schema.Chunk) error {
	var texts []string
	var idx []int
	for i, c := range chunks {
		if len(c.Vector) == 0 {
			texts = append(texts, c.Content)
			idx = append(idx, i)
		}
	}
	if len(texts) == 0 {
		return nil
	}
	if embedder == nil {
		return errors.New("embedder is required to load chunks without vectors")
	}
	vectors, err := embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(texts) {
		return fmt.Errorf("%w: want %d, got %d", ErrEmbeddingMismatch, len(texts), len(vectors))
	}
	for j, i := range idx {
		chunks[i].Vector = vectors[j]
	}
	return nil
}

func embedQuery(ctx context.Context, embedder embedding.Embedder, text string) ([]float64, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required for similarity search")
	}
	vectors, err := embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: want 1, got %d", ErrEmbeddingMismatch, len(vectors))
	}
	return vectors[0], nil
}

// CosineSimilarity 两个向量的余弦相似度，长度不同或为零向量时返回 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// matchFilters 元数据逐项相等。
func matchFilters(metadata, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := metadata[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

func equalValue(a, b any) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	}
	return 0, false
}

// rank 计算得分并按阈值与 topK 截断，返回的片段是副本。
func rank(query []float64, candidates []*schema.Chunk, topK int, threshold float64) []*schema.Chunk {
	out := make([]*schema.Chunk, 0, len(candidates))
	for _, c := range candidates {
		score := CosineSimilarity(query, c.Vector)
		if score < threshold {
			continue
		}
		cp := *c
		cp.Vector = nil
		cp.Score = score
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out
}
