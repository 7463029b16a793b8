package embedding

import "context"

// Embedder 文本向量化模型。
type Embedder interface {
	// EmbedStrings 返回与 texts 一一对应的向量
	EmbedStrings(ctx context.Context, texts []string, opts ...Option) ([][]float64, error)
}
