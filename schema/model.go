package schema

import (
	"errors"
	"fmt"
)

// ModelRequest 一次模型调用请求。
type ModelRequest struct {
	// Model 模型名称，如 moonshot-v1-8k
	Model string `json:"model"`
	// Messages 对话消息
	Messages []*ModelMessage `json:"messages"`
	// Temperature 采样温度，nil 表示使用模型默认值
	Temperature *float32 `json:"temperature,omitempty"`
	// MaxNewTokens 最多生成的 token 数，0 表示使用模型默认值
	MaxNewTokens int `json:"max_new_tokens,omitempty"`
	// Stop 停止词
	Stop []string `json:"stop,omitempty"`
	// Stream 是否流式输出
	Stream bool `json:"stream,omitempty"`
	// UserName 发起请求的用户
	UserName string `json:"user_name,omitempty"`
	// Context 额外的上下文信息
	Context *ModelRequestContext `json:"context,omitempty"`
}

// ModelRequestContext 请求上下文。
type ModelRequestContext struct {
	ConvUID   string         `json:"conv_uid,omitempty"`
	ChatMode  string         `json:"chat_mode,omitempty"`
	SysCode   string         `json:"sys_code,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
	SpanID    string         `json:"span_id,omitempty"`
	IsRetry   bool           `json:"-"`
	Truncated bool           `json:"-"`
}

// ErrInvalidRequest 模型请求不合法。
var ErrInvalidRequest = errors.New("invalid model request")

// Validate 校验请求的必填字段。
func (r *ModelRequest) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: request is nil", ErrInvalidRequest)
	}
	if r.Model == "" {
		return fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("%w: messages are required", ErrInvalidRequest)
	}
	return nil
}

// Copy 复制请求，消息切片与消息本身均为新对象。
func (r *ModelRequest) Copy() *ModelRequest {
	if r == nil {
		return nil
	}
	n := *r
	n.Messages = make([]*ModelMessage, len(r.Messages))
	for i, m := range r.Messages {
		mm := *m
		n.Messages[i] = &mm
	}
	if r.Stop != nil {
		n.Stop = append([]string(nil), r.Stop...)
	}
	if r.Context != nil {
		c := *r.Context
		n.Context = &c
	}
	return &n
}

// MessagesWithoutView 返回去掉 view 消息后的消息列表。
func (r *ModelRequest) MessagesWithoutView() []*ModelMessage {
	return FilterView(r.Messages)
}

// Usage token 用量。
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ModelOutput 模型输出。ErrorCode 为 0 表示成功。
type ModelOutput struct {
	Text         string `json:"text"`
	ErrorCode    int    `json:"error_code"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty"`
	// Incremental 为 true 时 Text 只是本次增量
	Incremental bool `json:"incremental,omitempty"`
}

// Success 是否为成功结果。
func (o *ModelOutput) Success() bool {
	return o != nil && o.ErrorCode == 0
}

// Err 将失败输出转换为错误，成功时返回 nil。
func (o *ModelOutput) Err() error {
	if o == nil {
		return errors.New("model output is nil")
	}
	if o.ErrorCode == 0 {
		return nil
	}
	return fmt.Errorf("model error (code %d): %s", o.ErrorCode, o.Text)
}

// ToMap 转为通用 map，用于 HTTP 接口输出。
func (o *ModelOutput) ToMap() map[string]any {
	return map[string]any{
		"text":          o.Text,
		"error_code":    o.ErrorCode,
		"finish_reason": o.FinishReason,
		"usage":         o.Usage,
	}
}

// ErrorOutput 用错误构造失败输出。
func ErrorOutput(code int, err error) *ModelOutput {
	return &ModelOutput{Text: err.Error(), ErrorCode: code}
}

// MergeOutputs 合并增量输出，用于流式结果的拼接。
func MergeOutputs(acc, next *ModelOutput) *ModelOutput {
	if acc == nil {
		return next
	}
	if next == nil {
		return acc
	}
	merged := *next
	if next.Incremental {
		merged.Text = acc.Text + next.Text
	}
	if merged.Usage == nil {
		merged.Usage = acc.Usage
	}
	return &merged
}

// ModelMetadata 模型元信息。
type ModelMetadata struct {
	Model         string   `json:"model"`
	ContextLength int      `json:"context_length"`
	ChatModel     bool     `json:"chat_model"`
	IsProxy       bool     `json:"is_proxy"`
	Aliases       []string `json:"aliases,omitempty"`
}
