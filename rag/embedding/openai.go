// Package embedding 提供文本向量化实现。
package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/gptdb/components/embedding"
	"github.com/favbox/gptdb/internal/httpx"
)

const (
	defaultEmbeddingBase  = "https://api.openai.com/v1"
	defaultEmbeddingModel = "text-embedding-ada-002"
	defaultBatchSize      = 32
	defaultConcurrency    = 4
)

// OpenAIConfig OpenAI 兼容 /embeddings 接口的配置。
type OpenAIConfig struct {
	// APIKey 默认读取 OPENAI_API_KEY，其次 PROXY_API_KEY
	APIKey string
	// APIBase 默认读取 EMBEDDING_API_BASE，其次 OPENAI_API_BASE
	APIBase string
	Model   string
	// BatchSize 单次请求的文本数量
	BatchSize int
	// Concurrency 并发请求数
	Concurrency int
	HTTPClient  *http.Client
}

// OpenAIEmbedder OpenAI 兼容的向量化客户端。
type OpenAIEmbedder struct {
	cfg    OpenAIConfig
	client *http.Client
}

// NewOpenAIEmbedder 空字段从环境变量或默认值补齐。
func NewOpenAIEmbedder(cfg *OpenAIConfig) (*OpenAIEmbedder, error) {
	c := OpenAIConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.APIKey = firstNonEmpty(c.APIKey, os.Getenv("OPENAI_API_KEY"), os.Getenv("PROXY_API_KEY"))
	c.APIBase = firstNonEmpty(c.APIBase, os.Getenv("EMBEDDING_API_BASE"), os.Getenv("OPENAI_API_BASE"), defaultEmbeddingBase)
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	c.Model = firstNonEmpty(c.Model, defaultEmbeddingModel)
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.APIKey == "" {
		return nil, errors.New("embedding api key is required")
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &OpenAIEmbedder{cfg: c, client: client}, nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedStrings 分批并发请求，结果顺序与 texts 一致。
func (e *OpenAIEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	o := embedding.GetCommonOptions(&embedding.Options{Model: &e.cfg.Model, BatchSize: &e.cfg.BatchSize}, opts...)
	size := *o.BatchSize
	out := make([][]float64, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		g.Go(func() error {
			vecs, err := e.embedBatch(ctx, *o.Model, texts[start:end])
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *OpenAIEmbedder) embedBatch(ctx context.Context, model string, batch []string) ([][]float64, error) {
	resp, err := httpx.DoJSON[embeddingResponse](ctx, e.client, &httpx.Request{
		URL:    e.cfg.APIBase + "/embeddings",
		APIKey: e.cfg.APIKey,
		Body:   &embeddingRequest{Model: model, Input: batch},
	})
	if err != nil {
		return nil, fmt.Errorf("request embeddings: %w", err)
	}
	if len(resp.Data) != len(batch) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(batch), len(resp.Data))
	}
	vecs := make([][]float64, len(batch))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(batch) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
