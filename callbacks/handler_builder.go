package callbacks

import (
	"context"
	"slices"

	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/schema"
)

type (
	StartFn           func(ctx context.Context, info *RunInfo, input CallbackInput) context.Context
	EndFn             func(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context
	ErrorFn           func(ctx context.Context, info *RunInfo, err error) context.Context
	StartWithStreamFn func(ctx context.Context, info *RunInfo, input *schema.StreamReader[CallbackInput]) context.Context
	EndWithStreamFn   func(ctx context.Context, info *RunInfo, output *schema.StreamReader[CallbackOutput]) context.Context
)

// HandlerBuilder 以函数组合回调处理器，未设置的时机被跳过；
// 指定组件种类后只处理这些组件的回调。
type HandlerBuilder struct {
	start       StartFn
	end         EndFn
	fail        ErrorFn
	startStream StartWithStreamFn
	endStream   EndWithStreamFn
	kinds       []components.Component
}

// NewHandlerBuilder 创建构建器。
func NewHandlerBuilder() *HandlerBuilder {
	return &HandlerBuilder{}
}

func (b *HandlerBuilder) OnStartFn(fn StartFn) *HandlerBuilder {
	b.start = fn
	return b
}

func (b *HandlerBuilder) OnEndFn(fn EndFn) *HandlerBuilder {
	b.end = fn
	return b
}

func (b *HandlerBuilder) OnErrorFn(fn ErrorFn) *HandlerBuilder {
	b.fail = fn
	return b
}

func (b *HandlerBuilder) OnStartWithStreamInputFn(fn StartWithStreamFn) *HandlerBuilder {
	b.startStream = fn
	return b
}

func (b *HandlerBuilder) OnEndWithStreamOutputFn(fn EndWithStreamFn) *HandlerBuilder {
	b.endStream = fn
	return b
}

// ForComponents 只处理指定种类组件的回调，如 LLMClient、Retriever。
func (b *HandlerBuilder) ForComponents(kinds ...components.Component) *HandlerBuilder {
	b.kinds = append(b.kinds, kinds...)
	return b
}

// Build 生成 Handler，之后修改构建器不影响已生成的 Handler。
func (b *HandlerBuilder) Build() Handler {
	h := *b
	h.kinds = slices.Clone(b.kinds)
	return &builtHandler{h}
}

type builtHandler struct {
	b HandlerBuilder
}

func (h *builtHandler) OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context {
	return h.b.start(ctx, info, input)
}

func (h *builtHandler) OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context {
	return h.b.end(ctx, info, output)
}

func (h *builtHandler) OnError(ctx context.Context, info *RunInfo, err error) context.Context {
	return h.b.fail(ctx, info, err)
}

func (h *builtHandler) OnStartWithStreamInput(ctx context.Context, info *RunInfo,
	input *schema.StreamReader[CallbackInput]) context.Context {
	return h.b.startStream(ctx, info, input)
}

func (h *builtHandler) OnEndWithStreamOutput(ctx context.Context, info *RunInfo,
	output *schema.StreamReader[CallbackOutput]) context.Context {
	return h.b.endStream(ctx, info, output)
}

// Needed 对应函数已设置且组件种类匹配时返回 true。
func (h *builtHandler) Needed(_ context.Context, info *RunInfo, timing CallbackTiming) bool {
	if len(h.b.kinds) > 0 && (info == nil || !slices.Contains(h.b.kinds, info.Component)) {
		return false
	}
	switch timing {
	case TimingOnStart:
		return h.b.start != nil
	case TimingOnEnd:
		return h.b.end != nil
	case TimingOnError:
		return h.b.fail != nil
	case TimingOnStartWithStreamInput:
		return h.b.startStream != nil
	case TimingOnEndWithStreamOutput:
		return h.b.endStream != nil
	}
	return false
}
