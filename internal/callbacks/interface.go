package callbacks

import (
	"context"

	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/schema"
)

// RunInfo 回调运行信息，描述当前执行的组件。
type RunInfo struct {
	// Name 展示名称，在 AWEL 中为节点名，并非唯一标识
	Name string
	// Type 组件实现类型，如 "OpenAI"、"MapOperator"
	Type string
	// Component 组件种类
	Component components.Component
}

// CallbackInput 组件输入到回调处理器的统一类型。
type CallbackInput any

// CallbackOutput 组件输出到回调处理器的统一类型。
type CallbackOutput any

// Handler 回调处理器，覆盖组件执行生命周期中的五个时机。
type Handler interface {
	OnStart(ctx context.Context, info *RunInfo, input CallbackInput) context.Context

	OnEnd(ctx context.Context, info *RunInfo, output CallbackOutput) context.Context

	OnError(ctx context.Context, info *RunInfo, err error) context.Context

	OnStartWithStreamInput(ctx context.Context, info *RunInfo,
		input *schema.StreamReader[CallbackInput]) context.Context

	OnEndWithStreamOutput(ctx context.Context, info *RunInfo,
		output *schema.StreamReader[CallbackOutput]) context.Context
}

// CallbackTiming 回调时机。
type CallbackTiming uint8

// TimingChecker 处理器可据此声明只关心部分时机。
type TimingChecker interface {
	Needed(ctx context.Context, info *RunInfo, timing CallbackTiming) bool
}
