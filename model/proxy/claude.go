package proxy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/schema"
)

const (
	defaultClaudeModel     = "claude-3-5-sonnet-latest"
	defaultClaudeAlias     = "claude_proxyllm"
	defaultClaudeMaxTokens = 4096
)

// ClaudeConfig Claude 客户端配置。
type ClaudeConfig struct {
	// APIKey 默认读取 ANTHROPIC_API_KEY
	APIKey        string
	APIBase       string
	Model         string
	ModelAlias    string
	ContextLength int
	// RequestOptions 额外的 SDK 请求选项，测试中用于替换 HTTP 客户端
	RequestOptions []option.RequestOption
}

// ClaudeLLMClient 基于 anthropic-sdk-go 的客户端。
type ClaudeLLMClient struct {
	cfg    ClaudeConfig
	client anthropic.Client
}

// NewClaudeLLMClient 创建 Claude 客户端。
func NewClaudeLLMClient(cfg *ClaudeConfig) (*ClaudeLLMClient, error) {
	c := ClaudeConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.APIKey = firstNonEmpty(c.APIKey, os.Getenv("ANTHROPIC_API_KEY"), os.Getenv("PROXY_API_KEY"))
	c.Model = firstNonEmpty(c.Model, defaultClaudeModel)
	c.ModelAlias = firstNonEmpty(c.ModelAlias, defaultClaudeAlias)
	if c.ContextLength <= 0 {
		c.ContextLength = 200 * 1000
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: please set 'ANTHROPIC_API_KEY' in environment variable or pass it to the client", ErrMissingAPIKey)
	}

	opts := []option.RequestOption{option.WithAPIKey(c.APIKey)}
	if c.APIBase != "" {
		opts = append(opts, option.WithBaseURL(c.APIBase))
	}
	opts = append(opts, c.RequestOptions...)
	return &ClaudeLLMClient{cfg: c, client: anthropic.NewClient(opts...)}, nil
}

func (c *ClaudeLLMClient) GetType() string { return "Claude" }

func (c *ClaudeLLMClient) IsCallbacksEnabled() bool { return true }

// DefaultModel 默认模型名称。
func (c *ClaudeLLMClient) DefaultModel() string { return c.cfg.Model }

// ModelAlias 模型别名。
func (c *ClaudeLLMClient) ModelAlias() string { return c.cfg.ModelAlias }

// ContextLength 上下文长度。
func (c *ClaudeLLMClient) ContextLength() int { return c.cfg.ContextLength }

// buildParams system 消息合并为 System，其余按角色转换。
func (c *ClaudeLLMClient) buildParams(req *schema.ModelRequest) (anthropic.MessageNewParams, error) {
	model := req.Model
	if model == "" || model == c.cfg.ModelAlias {
		model = c.cfg.Model
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: defaultClaudeMaxTokens,
	}
	if req.MaxNewTokens > 0 {
		params.MaxTokens = int64(req.MaxNewTokens)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if len(req.Stop) > 0 {
		params.StopSequences = req.Stop
	}

	var system []string
	for _, m := range req.MessagesWithoutView() {
		switch m.Role {
		case schema.System:
			system = append(system, m.Content)
		case schema.AI:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return params, fmt.Errorf("%w: messages are required", schema.ErrInvalidRequest)
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n")}}
	}
	return params, nil
}

func (c *ClaudeLLMClient) Generate(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (out *schema.ModelOutput, err error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("claude API error: %w", err)
	}

	var text strings.Builder
	for _, block := range message.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(tb.Text)
		}
	}
	out = &schema.ModelOutput{
		Text:         text.String(),
		FinishReason: string(message.StopReason),
		Usage: &schema.Usage{
			PromptTokens:     int(message.Usage.InputTokens),
			CompletionTokens: int(message.Usage.OutputTokens),
			TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
		},
	}
	callbacks.OnEnd(ctx, &llm.CallbackOutput{Output: out})
	return out, nil
}

// GenerateStream 每个输出携带截至当前的完整文本。
func (c *ClaudeLLMClient) GenerateStream(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})

	params, err := c.buildParams(req)
	if err != nil {
		callbacks.OnError(ctx, err)
		return nil, err
	}
	stream := c.client.Messages.NewStreaming(ctx, params)

	sr, sw := schema.Pipe[*schema.ModelOutput](8)
	go func() {
		defer sw.Close()
		defer stream.Close()

		var text strings.Builder
		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" {
				continue
			}
			text.WriteString(delta.Text)
			if closed := sw.Send(&schema.ModelOutput{Text: text.String()}, nil); closed {
				return
			}
		}
		if err := stream.Err(); err != nil {
			sw.Send(nil, fmt.Errorf("claude stream error: %w", err))
		}
	}()

	_, sr = callbacks.OnEndWithStreamOutput(ctx, sr)
	return sr, nil
}

func (c *ClaudeLLMClient) Models(context.Context) ([]*schema.ModelMetadata, error) {
	return []*schema.ModelMetadata{{
		Model:         c.cfg.Model,
		ContextLength: c.cfg.ContextLength,
		ChatModel:     true,
		IsProxy:       true,
		Aliases:       []string{c.cfg.ModelAlias},
	}}, nil
}

func (c *ClaudeLLMClient) CountToken(_ context.Context, _ string, prompt string) (int, error) {
	return EstimateTokens(prompt), nil
}
