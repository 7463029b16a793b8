package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/internal/httpx"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/schema"
)

const (
	defaultOpenAIBase    = "https://api.openai.com/v1"
	defaultOpenAIModel   = "gpt-3.5-turbo"
	defaultOpenAIAlias   = "chatgpt_proxyllm"
	defaultOpenAITimeout = 120 * time.Second

	// minProtocolVersion OpenAI 兼容协议的最低版本
	minProtocolVersion = "1.0"
)

// ErrMissingAPIKey 未配置 API Key。
var ErrMissingAPIKey = errors.New("api key is required")

// OpenAIConfig OpenAI 兼容客户端配置，空字段从环境变量或默认值补齐。
type OpenAIConfig struct {
	// APIKey 默认读取 OPENAI_API_KEY，其次 PROXY_API_KEY
	APIKey string
	// APIBase 默认读取 OPENAI_API_BASE
	APIBase string
	// Model 默认模型
	Model string
	// ModelAlias 在 worker manager 中注册的别名
	ModelAlias string
	// ContextLength 上下文长度，默认 4096
	ContextLength int
	// Timeout 单次请求超时
	Timeout time.Duration
	// ProtocolVersion 服务端兼容的协议版本，低于 1.0 时拒绝创建
	ProtocolVersion string
	// HTTPClient 自定义 HTTP 客户端
	HTTPClient *http.Client
}

// OpenAILLMClient 调用 OpenAI 兼容的 /chat/completions 接口。
type OpenAILLMClient struct {
	cfg    OpenAIConfig
	client *http.Client
	typ    string
}

// NewOpenAILLMClient 创建 OpenAI 兼容客户端。
func NewOpenAILLMClient(cfg *OpenAIConfig) (*OpenAILLMClient, error) {
	c := OpenAIConfig{}
	if cfg != nil {
		c = *cfg
	}
	c.APIKey = firstNonEmpty(c.APIKey, os.Getenv("OPENAI_API_KEY"), os.Getenv("PROXY_API_KEY"))
	c.APIBase = firstNonEmpty(c.APIBase, os.Getenv("OPENAI_API_BASE"), defaultOpenAIBase)
	c.Model = firstNonEmpty(c.Model, defaultOpenAIModel)
	c.ModelAlias = firstNonEmpty(c.ModelAlias, defaultOpenAIAlias)
	if c.ContextLength <= 0 {
		c.ContextLength = 4096
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultOpenAITimeout
	}
	if c.APIKey == "" {
		return nil, fmt.Errorf("%w: please set 'OPENAI_API_KEY' in environment variable or pass it to the client", ErrMissingAPIKey)
	}
	return newOpenAICompatible(c, "OpenAI")
}

func newOpenAICompatible(c OpenAIConfig, typ string) (*OpenAILLMClient, error) {
	if err := checkProtocolVersion(c.ProtocolVersion); err != nil {
		return nil, err
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: c.Timeout}
	}
	c.APIBase = strings.TrimRight(c.APIBase, "/")
	return &OpenAILLMClient{cfg: c, client: client, typ: typ}, nil
}

// checkProtocolVersion 空版本视为满足要求。
func checkProtocolVersion(v string) error {
	if v == "" {
		return nil
	}
	if compareVersion(v, minProtocolVersion) < 0 {
		return fmt.Errorf("openai compatible api requires protocol version >= %s, got %s", minProtocolVersion, v)
	}
	return nil
}

// compareVersion 按点分数字比较版本号。
func compareVersion(a, b string) int {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var x, y int
		if i < len(as) {
			x, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			y, _ = strconv.Atoi(bs[i])
		}
		if x != y {
			if x < y {
				return -1
			}
			return 1
		}
	}
	return 0
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

// DefaultModel 默认模型名称。
func (c *OpenAILLMClient) DefaultModel() string { return c.cfg.Model }

// ContextLength 上下文长度。
func (c *OpenAILLMClient) ContextLength() int { return c.cfg.ContextLength }

// ModelAlias 模型别名。
func (c *OpenAILLMClient) ModelAlias() string { return c.cfg.ModelAlias }

func (c *OpenAILLMClient) GetType() string { return c.typ }

func (c *OpenAILLMClient) IsCallbacksEnabled() bool { return true }

// ====== 协议结构 ======

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *chatUsage `json:"usage"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (u *chatUsage) toUsage() *schema.Usage {
	if u == nil {
		return nil
	}
	return &schema.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (c *OpenAILLMClient) buildRequest(req *schema.ModelRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" || model == c.cfg.ModelAlias {
		model = c.cfg.Model
	}
	msgs := req.MessagesWithoutView()
	cr := &chatRequest{
		Model:       model,
		Messages:    make([]chatMessage, 0, len(msgs)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxNewTokens,
		Stop:        req.Stop,
		Stream:      stream,
		User:        req.UserName,
	}
	for _, m := range msgs {
		cr.Messages = append(cr.Messages, chatMessage{Role: m.OpenAIRole(), Content: m.Content})
	}
	return cr
}

// ====== LLMClient ======

func (c *OpenAILLMClient) Generate(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (out *schema.ModelOutput, err error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	if len(req.MessagesWithoutView()) == 0 {
		return nil, fmt.Errorf("%w: messages are required", schema.ErrInvalidRequest)
	}
	resp, err := httpx.DoJSON[chatResponse](ctx, c.client, &httpx.Request{
		URL:    c.cfg.APIBase + "/chat/completions",
		APIKey: c.cfg.APIKey,
		Body:   c.buildRequest(req, false),
	})
	if err != nil {
		return nil, fmt.Errorf("%s chat completion: %w", c.typ, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s chat completion: empty choices", c.typ)
	}
	out = &schema.ModelOutput{
		Text:         resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage:        resp.Usage.toUsage(),
	}
	callbacks.OnEnd(ctx, &llm.CallbackOutput{Output: out})
	return out, nil
}

// GenerateStream 每个输出携带截至当前的完整文本。
func (c *OpenAILLMClient) GenerateStream(ctx context.Context, req *schema.ModelRequest, opts ...llm.Option) (*schema.StreamReader[*schema.ModelOutput], error) {
	req = llm.ApplyToRequest(req, opts...)
	ctx = callbacks.EnsureRunInfo(ctx, c.GetType(), components.ComponentOfLLMClient)
	ctx = callbacks.OnStart(ctx, &llm.CallbackInput{Request: req})

	if len(req.MessagesWithoutView()) == 0 {
		err := fmt.Errorf("%w: messages are required", schema.ErrInvalidRequest)
		callbacks.OnError(ctx, err)
		return nil, err
	}
	resp, err := httpx.Do(ctx, c.client, &httpx.Request{
		URL:    c.cfg.APIBase + "/chat/completions",
		APIKey: c.cfg.APIKey,
		Body:   c.buildRequest(req, true),
		Stream: true,
	})
	if err != nil {
		err = fmt.Errorf("%s chat completion stream: %w", c.typ, err)
		callbacks.OnError(ctx, err)
		return nil, err
	}

	sr, sw := schema.Pipe[*schema.ModelOutput](8)
	go func() {
		defer sw.Close()
		defer httpx.CloseWithLog(resp.Body)

		scanner := httpx.NewSSEScanner(resp.Body)
		var text strings.Builder
		for {
			data, err := scanner.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				sw.Send(nil, err)
				return
			}
			var chunk chatStreamChunk
			if err = sonic.UnmarshalString(data, &chunk); err != nil {
				logging.FromContext(ctx).Warn("skip malformed stream chunk", "type", c.typ, "error", err)
				continue
			}
			out := &schema.ModelOutput{Usage: chunk.Usage.toUsage()}
			if len(chunk.Choices) > 0 {
				text.WriteString(chunk.Choices[0].Delta.Content)
				if fr := chunk.Choices[0].FinishReason; fr != nil {
					out.FinishReason = *fr
				}
			}
			out.Text = text.String()
			if closed := sw.Send(out, nil); closed {
				return
			}
		}
	}()

	_, sr = callbacks.OnEndWithStreamOutput(ctx, sr)
	return sr, nil
}

func (c *OpenAILLMClient) Models(ctx context.Context) ([]*schema.ModelMetadata, error) {
	resp, err := httpx.DoJSON[modelsResponse](ctx, c.client, &httpx.Request{
		Method: http.MethodGet,
		URL:    c.cfg.APIBase + "/models",
		APIKey: c.cfg.APIKey,
	})
	if err != nil {
		// 部分兼容服务不提供 /models，退回到已配置的模型
		logging.FromContext(ctx).Debug("list models failed", "type", c.typ, "error", err)
		return []*schema.ModelMetadata{c.metadata(c.cfg.Model)}, nil
	}
	out := make([]*schema.ModelMetadata, 0, len(resp.Data))
	for _, m := range resp.Data {
		out = append(out, c.metadata(m.ID))
	}
	return out, nil
}

func (c *OpenAILLMClient) metadata(model string) *schema.ModelMetadata {
	md := &schema.ModelMetadata{Model: model, ContextLength: c.cfg.ContextLength, ChatModel: true, IsProxy: true}
	if model == c.cfg.Model {
		md.Aliases = []string{c.cfg.ModelAlias}
	}
	return md
}

// CountToken 粗略估算：约 4 个字符一个 token，中文按一字一 token。
func (c *OpenAILLMClient) CountToken(_ context.Context, _ string, prompt string) (int, error) {
	return EstimateTokens(prompt), nil
}

// EstimateTokens 不依赖分词器的 token 估算。
func EstimateTokens(s string) int {
	ascii, other := 0, 0
	for _, r := range s {
		if r < utf8.RuneSelf {
			ascii++
		} else {
			other++
		}
	}
	return (ascii+3)/4 + other
}
