package embedding

import (
	"os"
	"strings"

	"github.com/favbox/gptdb/components/embedding"
)

// 离线哈希向量化的模型名
const (
	ModelHashing = "hashing"
	ModelMock    = "mock"
)

// EnvEmbeddingModel 默认向量化模型的环境变量
const EnvEmbeddingModel = "EMBEDDING_MODEL"

// Factory 按模型名创建向量化实现。
type Factory struct {
	// OpenAI 创建 OpenAI 兼容客户端时的基础配置
	OpenAI OpenAIConfig
}

// Create model 为空时读取 EMBEDDING_MODEL，仍为空则使用哈希向量化。
func (f *Factory) Create(model string) (embedding.Embedder, error) {
	if model == "" {
		model = os.Getenv(EnvEmbeddingModel)
	}
	switch strings.ToLower(model) {
	case "", ModelHashing, ModelMock:
		return NewHashingEmbedder(0), nil
	}
	cfg := f.OpenAI
	cfg.Model = model
	return NewOpenAIEmbedder(&cfg)
}
