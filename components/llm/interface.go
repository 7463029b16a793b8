package llm

import (
	"context"

	"github.com/favbox/gptdb/schema"
)

// LLMClient 大模型客户端。
//
// 既可以是本地 worker manager 托管的模型，也可以是第三方代理 API。
// GenerateStream 返回的每个 ModelOutput 默认携带截至当前的完整文本，
// 若 Incremental 为 true 则仅为增量。
type LLMClient interface {
	Generate(ctx context.Context, req *schema.ModelRequest, opts ...Option) (*schema.ModelOutput, error)
	GenerateStream(ctx context.Context, req *schema.ModelRequest, opts ...Option) (*schema.StreamReader[*schema.ModelOutput], error)
	// Models 列出客户端可用的模型
	Models(ctx context.Context) ([]*schema.ModelMetadata, error)
	// CountToken 估算 prompt 的 token 数
	CountToken(ctx context.Context, model string, prompt string) (int, error)
}
