package prompt

import (
	"context"
	"fmt"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/schema"
)

// MessageTemplate 可渲染为若干消息的模板。
type MessageTemplate interface {
	Format(ctx context.Context, vs map[string]any, formatType FormatType) ([]*schema.ModelMessage, error)
}

// roleTemplate 固定角色的单条消息模板。
type roleTemplate struct {
	role    schema.ModelMessageRole
	content string
}

func (r *roleTemplate) Format(_ context.Context, vs map[string]any, formatType FormatType) ([]*schema.ModelMessage, error) {
	c, err := Render(r.content, vs, formatType)
	if err != nil {
		return nil, err
	}
	return []*schema.ModelMessage{{Role: r.role, Content: c}}, nil
}

// SystemPromptTemplate 系统消息模板。
func SystemPromptTemplate(content string) MessageTemplate {
	return &roleTemplate{role: schema.System, content: content}
}

// HumanPromptTemplate 用户消息模板。
func HumanPromptTemplate(content string) MessageTemplate {
	return &roleTemplate{role: schema.Human, content: content}
}

// AIPromptTemplate 模型消息模板，常用于 few-shot 示例。
func AIPromptTemplate(content string) MessageTemplate {
	return &roleTemplate{role: schema.AI, content: content}
}

// messagesPlaceholder 将变量中的历史消息原样插入。
type messagesPlaceholder struct {
	key      string
	optional bool
}

// MessagesPlaceholder 历史消息占位符，变量值须为 []*schema.ModelMessage。
func MessagesPlaceholder(key string, optional bool) MessageTemplate {
	return &messagesPlaceholder{key: key, optional: optional}
}

func (p *messagesPlaceholder) Format(_ context.Context, vs map[string]any, _ FormatType) ([]*schema.ModelMessage, error) {
	v, ok := vs[p.key]
	if !ok {
		if p.optional {
			return nil, nil
		}
		return nil, fmt.Errorf("message placeholder format: %s not found", p.key)
	}
	msgs, ok := v.([]*schema.ModelMessage)
	if !ok {
		return nil, fmt.Errorf("only messages can be used to format message placeholder, key: %v, actual type: %T", p.key, v)
	}
	return msgs, nil
}

// CallbackInput 模板渲染回调输入。
type CallbackInput struct {
	Variables map[string]any
	Templates []MessageTemplate
}

// CallbackOutput 模板渲染回调输出。
type CallbackOutput struct {
	Result []*schema.ModelMessage
}

// ChatPromptTemplate 多条消息模板组成的对话模板。
type ChatPromptTemplate struct {
	templates  []MessageTemplate
	formatType FormatType
}

// FromMessages 由消息模板创建对话模板。
func FromMessages(formatType FormatType, templates ...MessageTemplate) *ChatPromptTemplate {
	return &ChatPromptTemplate{templates: templates, formatType: formatType}
}

// Format 依次渲染所有模板。
func (t *ChatPromptTemplate) Format(ctx context.Context, vs map[string]any) (result []*schema.ModelMessage, err error) {
	ctx = callbacks.EnsureRunInfo(ctx, t.GetType(), components.ComponentOfPrompt)
	ctx = callbacks.OnStart(ctx, &CallbackInput{Variables: vs, Templates: t.templates})
	defer func() {
		if err != nil {
			_ = callbacks.OnError(ctx, err)
		}
	}()

	result = make([]*schema.ModelMessage, 0, len(t.templates))
	for _, tpl := range t.templates {
		msgs, err := tpl.Format(ctx, vs, t.formatType)
		if err != nil {
			return nil, err
		}
		result = append(result, msgs...)
	}

	_ = callbacks.OnEnd(ctx, &CallbackOutput{Result: result})
	return result, nil
}

func (t *ChatPromptTemplate) GetType() string {
	return "Default"
}

func (t *ChatPromptTemplate) IsCallbacksEnabled() bool {
	return true
}
