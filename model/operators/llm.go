/*
 * llm.go - 大模型算子
 *
 * LLMOperator 与 StreamingLLMOperator 在首次执行时解析 LLM 客户端：
 * 显式传入的客户端 > SystemApp 中的 worker manager 工厂 > OpenAI 兼容客户端。
 */

package operators

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/model/cluster"
	"github.com/favbox/gptdb/model/proxy"
	"github.com/favbox/gptdb/schema"
)

// FallbackFunc 没有 worker manager 时创建客户端。
type FallbackFunc func() (llm.LLMClient, error)

func defaultFallback() (llm.LLMClient, error) {
	return proxy.NewOpenAILLMClient(nil)
}

// ClientResolver 延迟解析并缓存 LLM 客户端。
type ClientResolver struct {
	mu       sync.Mutex
	client   llm.LLMClient
	sys      *component.SystemApp
	fallback FallbackFunc
}

// NewClientResolver client 非空时直接使用。
func NewClientResolver(client llm.LLMClient, sys *component.SystemApp) *ClientResolver {
	return &ClientResolver{client: client, sys: sys, fallback: defaultFallback}
}

// WithFallback 替换兜底客户端的创建方式。
func (r *ClientResolver) WithFallback(fn FallbackFunc) *ClientResolver {
	r.fallback = fn
	return r
}

// LLMClient 返回可用的客户端，兜底客户端创建失败时返回错误且不缓存。
func (r *ClientResolver) LLMClient(ctx context.Context) (llm.LLMClient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client != nil {
		return r.client, nil
	}

	logger := logging.FromContext(ctx)
	if r.sys != nil {
		factory, err := component.GetComponentAs[cluster.WorkerManagerFactory](r.sys, component.WorkerManagerFactory)
		switch {
		case err == nil:
			r.client = cluster.NewDefaultLLMClient(factory.Create())
		case !errors.Is(err, component.ErrComponentNotFound):
			logger.Warn(fmt.Sprintf("Load worker manager failed: %v.", err))
		}
	}
	if r.client == nil {
		logger.Info("Can't find worker manager factory, use OpenAILLMClient.")
		c, err := r.fallback()
		if err != nil {
			return nil, fmt.Errorf("create fallback llm client: %w", err)
		}
		r.client = c
	}
	return r.client, nil
}

func toRequest(v any) (*schema.ModelRequest, error) {
	switch t := v.(type) {
	case *schema.ModelRequest:
		return t, nil
	case schema.ModelRequest:
		return &t, nil
	default:
		return nil, fmt.Errorf("llm operator expects *schema.ModelRequest, got %T", v)
	}
}

// ====== LLMOperator ======

// LLMOperator 非流式调用模型，错误输出转换为算子错误。
type LLMOperator struct {
	*awel.MapOperator[any, *schema.ModelOutput]
	*ClientResolver
}

// NewLLMOperator client 与 sys 均可为空。
func NewLLMOperator(client llm.LLMClient, sys *component.SystemApp, opts ...awel.OperatorOption) *LLMOperator {
	op := &LLMOperator{ClientResolver: NewClientResolver(client, sys)}
	op.MapOperator = awel.NewMapOperator(op.generate, opts...)
	return op
}

func (o *LLMOperator) generate(ctx context.Context, in any) (*schema.ModelOutput, error) {
	req, err := toRequest(in)
	if err != nil {
		return nil, err
	}
	client, err := o.LLMClient(ctx)
	if err != nil {
		return nil, err
	}
	out, err := client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if err = out.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ====== StreamingLLMOperator ======

// StreamingLLMOperator 流式调用模型，输出流中的错误输出转换为流错误。
type StreamingLLMOperator struct {
	*awel.StreamifyOperator[any, *schema.ModelOutput]
	*ClientResolver
}

// NewStreamingLLMOperator client 与 sys 均可为空。
func NewStreamingLLMOperator(client llm.LLMClient, sys *component.SystemApp, opts ...awel.OperatorOption) *StreamingLLMOperator {
	op := &StreamingLLMOperator{ClientResolver: NewClientResolver(client, sys)}
	op.StreamifyOperator = awel.NewStreamifyOperator(op.generateStream, opts...)
	return op
}

func (o *StreamingLLMOperator) generateStream(ctx context.Context, in any) (*schema.StreamReader[*schema.ModelOutput], error) {
	req, err := toRequest(in)
	if err != nil {
		return nil, err
	}
	client, err := o.LLMClient(ctx)
	if err != nil {
		return nil, err
	}
	sr, err := client.GenerateStream(ctx, req)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderWithConvert(sr, func(out *schema.ModelOutput) (*schema.ModelOutput, error) {
		if err := out.Err(); err != nil {
			return nil, err
		}
		return out, nil
	}), nil
}
