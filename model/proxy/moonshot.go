package proxy

import (
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	defaultMoonshotModel   = "moonshot-v1-8k"
	defaultMoonshotBase    = "https://api.moonshot.cn/v1"
	defaultMoonshotAlias   = "moonshot_proxyllm"
	defaultMoonshotTimeout = 240 * time.Second
)

// MoonshotLLMClient Moonshot 接口与 OpenAI 兼容，复用 OpenAILLMClient。
type MoonshotLLMClient struct {
	*OpenAILLMClient
}

// NewMoonshotLLMClient 创建 Moonshot 客户端。
//
// 未指定上下文长度时按模型名推断：含 128k 为 131072，含 32k 为 32768，其余 8192。
func NewMoonshotLLMClient(cfg *OpenAIConfig) (*MoonshotLLMClient, error) {
	c := OpenAIConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.APIBase = firstNonEmpty(c.APIBase, os.Getenv("MOONSHOT_API_BASE"), defaultMoonshotBase)
	c.APIKey = firstNonEmpty(c.APIKey, os.Getenv("MOONSHOT_API_KEY"))
	c.Model = firstNonEmpty(c.Model, defaultMoonshotModel)
	c.ModelAlias = firstNonEmpty(c.ModelAlias, defaultMoonshotAlias)
	if c.Timeout <= 0 {
		c.Timeout = defaultMoonshotTimeout
	}
	if c.ContextLength <= 0 {
		c.ContextLength = moonshotContextLength(c.Model)
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: Moonshot API key is required, please set 'MOONSHOT_API_KEY' in environment variable or pass it to the client", ErrMissingAPIKey)
	}

	inner, err := newOpenAICompatible(c, "Moonshot")
	if err != nil {
		return nil, fmt.Errorf("moonshot: %w", err)
	}
	return &MoonshotLLMClient{OpenAILLMClient: inner}, nil
}

func moonshotContextLength(model string) int {
	switch {
	case strings.Contains(model, "128k"):
		return 1024 * 128
	case strings.Contains(model, "32k"):
		return 1024 * 32
	default:
		return 1024 * 8
	}
}
