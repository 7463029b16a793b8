package cluster

import (
	"context"
	"errors"
	"io"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/schema"
)

// DefaultLLMClient 通过 WorkerManager 调用模型的 LLMClient。
type DefaultLLMClient struct {
	wm WorkerManager
}

// NewDefaultLLMClient 包装 worker manager。
func NewDefaultLLMClient(wm WorkerManager) *DefaultLLMClient {
	return &DefaultLLMClient{wm: wm}
}

func (c *DefaultLLMClient) GetType() string { return "WorkerManager" }

func (c *DefaultLLMClient) IsCallbacksEnabled() bool { return true }

func (c *DefaultLLMClient) Generate(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (*schema.ModelOutput, error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})
	out, err := c.wm.Generate(ctx, req)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	callbacks.OnEnd(ctx, &llm.CallbackOutput{Output: out})
	return out, nil
}

func (c *DefaultLLMClient) GenerateStream(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})
	sr, err := c.wm.GenerateStream(ctx, req)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	_, sr = callbacks.OnEndWithStreamOutput(ctx, sr)
	return sr, nil
}

func (c *DefaultLLMClient) Models(ctx context.Context) ([]*schema.ModelMetadata, error) {
	infos, err := c.wm.SupportedModels(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.ModelMetadata, 0, len(infos))
	for _, info := range infos {
		out = append(out, &schema.ModelMetadata{
			Model:         info.ModelName,
			ContextLength: info.ContextLength,
			ChatModel:     true,
			Aliases:       info.Aliases,
		})
	}
	return out, nil
}

func (c *DefaultLLMClient) CountToken(ctx context.Context, model, prompt string) (int, error) {
	return c.wm.CountToken(ctx, model, prompt)
}

func isEOF(err error) bool { return errors.Is(err, io.EOF) }
