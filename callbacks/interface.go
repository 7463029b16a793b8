/*
Package callbacks 为组件与 AWEL 算子提供统一的生命周期回调，
用于日志、指标与链路追踪等横切关注点。
*/
package callbacks

import (
	"context"

	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/internal/callbacks"
	"github.com/favbox/gptdb/schema"
)

// RunInfo 回调运行信息。
type RunInfo = callbacks.RunInfo

// CallbackInput 回调输入。
type CallbackInput = callbacks.CallbackInput

// CallbackOutput 回调输出。
type CallbackOutput = callbacks.CallbackOutput

// Handler 回调处理器。
type Handler = callbacks.Handler

// CallbackTiming 回调时机。
type CallbackTiming = callbacks.CallbackTiming

// TimingChecker 时机检查器。
type TimingChecker = callbacks.TimingChecker

const (
	TimingOnStart                = callbacks.TimingOnStart
	TimingOnEnd                  = callbacks.TimingOnEnd
	TimingOnError                = callbacks.TimingOnError
	TimingOnStartWithStreamInput = callbacks.TimingOnStartWithStreamInput
	TimingOnEndWithStreamOutput  = callbacks.TimingOnEndWithStreamOutput
)

// AppendGlobalHandlers 追加全局处理器，通常在进程初始化阶段调用。
func AppendGlobalHandlers(handlers ...Handler) {
	callbacks.AppendGlobalHandlers(handlers...)
}

// InitCallbacks 以运行信息和处理器初始化上下文。
func InitCallbacks(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	return callbacks.InitCallbacks(ctx, info, handlers...)
}

// ReuseHandlers 复用上下文中的处理器并替换运行信息。
func ReuseHandlers(ctx context.Context, info *RunInfo) context.Context {
	return callbacks.ReuseHandlers(ctx, info)
}

// AppendHandlers 在上下文已有处理器之后追加处理器，并设置新的运行信息。
func AppendHandlers(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	return callbacks.AppendHandlers(ctx, info, handlers...)
}

// EnsureRunInfo 确保上下文中存在运行信息。
func EnsureRunInfo(ctx context.Context, typ string, comp components.Component) context.Context {
	return callbacks.EnsureRunInfo(ctx, typ, comp)
}

// OnStart 触发 OnStart。
func OnStart[T any](ctx context.Context, input T) context.Context {
	ctx, _ = callbacks.On(ctx, input, callbacks.OnStartHandle[T], TimingOnStart, true)
	return ctx
}

// OnEnd 触发 OnEnd。
func OnEnd[T any](ctx context.Context, output T) context.Context {
	ctx, _ = callbacks.On(ctx, output, callbacks.OnEndHandle[T], TimingOnEnd, false)
	return ctx
}

// OnError 触发 OnError。
func OnError(ctx context.Context, err error) context.Context {
	ctx, _ = callbacks.On(ctx, err, callbacks.OnErrorHandle, TimingOnError, false)
	return ctx
}

// OnStartWithStreamInput 触发 OnStartWithStreamInput，返回供组件继续使用的流。
func OnStartWithStreamInput[T any](ctx context.Context, input *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, input, callbacks.OnStartWithStreamInputHandle[T], TimingOnStartWithStreamInput, true)
}

// OnEndWithStreamOutput 触发 OnEndWithStreamOutput，返回供调用方继续使用的流。
func OnEndWithStreamOutput[T any](ctx context.Context, output *schema.StreamReader[T]) (
	context.Context, *schema.StreamReader[T]) {
	return callbacks.On(ctx, output, callbacks.OnEndWithStreamOutputHandle[T], TimingOnEndWithStreamOutput, false)
}
