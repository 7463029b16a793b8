package retriever

import (
	"context"

	"github.com/favbox/gptdb/schema"
)

// Retriever 根据查询返回相关片段，结果按得分降序。
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...Option) ([]*schema.Chunk, error)
	// RetrieveWithScores 仅保留得分不低于 scoreThreshold 的片段
	RetrieveWithScores(ctx context.Context, query string, scoreThreshold float64, opts ...Option) ([]*schema.Chunk, error)
}
