package callbacks

import (
	"context"

	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/internal/generic"
	"github.com/favbox/gptdb/schema"
)

const (
	TimingOnStart CallbackTiming = iota
	TimingOnEnd
	TimingOnError
	TimingOnStartWithStreamInput
	TimingOnEndWithStreamOutput
)

// InitCallbacks 以给定运行信息与处理器初始化上下文。
func InitCallbacks(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	if mgr, ok := newManager(info, handlers...); ok {
		return ctxWithManager(ctx, mgr)
	}
	return ctxWithManager(ctx, nil)
}

// ReuseHandlers 保留已有处理器，仅替换运行信息。
func ReuseHandlers(ctx context.Context, info *RunInfo) context.Context {
	cbm, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, info)
	}
	return ctxWithManager(ctx, cbm.withRunInfo(info))
}

// EnsureRunInfo 确保上下文中存在运行信息，已存在时原样返回。
func EnsureRunInfo(ctx context.Context, typ string, comp components.Component) context.Context {
	cbm, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, &RunInfo{Type: typ, Component: comp})
	}
	if cbm.runInfo == nil {
		return ReuseHandlers(ctx, &RunInfo{Type: typ, Component: comp})
	}
	return ctx
}

// AppendHandlers 在已有处理器后追加处理器。
func AppendHandlers(ctx context.Context, info *RunInfo, handlers ...Handler) context.Context {
	cbm, ok := managerFromCtx(ctx)
	if !ok {
		return InitCallbacks(ctx, info, handlers...)
	}
	nh := make([]Handler, 0, len(cbm.handlers)+len(handlers))
	nh = append(nh, cbm.handlers...)
	nh = append(nh, handlers...)
	return InitCallbacks(ctx, info, nh...)
}

// Handle 某一时机的处理函数。
type Handle[T any] func(context.Context, T, *RunInfo, []Handler) (context.Context, T)

// On 按时机筛选处理器并执行 handle。
// start 为 true 时运行信息从管理器移入上下文，后续嵌套组件不会误用。
func On[T any](ctx context.Context, inOut T, handle Handle[T], timing CallbackTiming, start bool) (context.Context, T) {
	mgr, ok := managerFromCtx(ctx)
	if !ok {
		return ctx, inOut
	}

	next := *mgr
	info := next.runInfo
	switch {
	case start:
		next.runInfo = nil
		ctx = context.WithValue(ctx, ctxRunInfoKey{}, info)
	case info == nil:
		info, _ = ctx.Value(ctxRunInfoKey{}).(*RunInfo)
	}

	ctx, out := handle(ctx, inOut, info, neededHandlers(ctx, &next, info, timing))
	return ctxWithManager(ctx, &next), out
}

// neededHandlers 按组件局部、全局的顺序返回关心该时机的处理器。
func neededHandlers(ctx context.Context, mgr *manager, info *RunInfo, timing CallbackTiming) []Handler {
	hs := make([]Handler, 0, len(mgr.handlers)+len(mgr.globalHandlers))
	for _, group := range [][]Handler{mgr.handlers, mgr.globalHandlers} {
		for _, h := range group {
			if tc, ok := h.(TimingChecker); ok && !tc.Needed(ctx, info, timing) {
				continue
			}
			hs = append(hs, h)
		}
	}
	return hs
}

// OnStartHandle 逆序执行 OnStart，后注册的处理器先执行。
func OnStartHandle[T any](ctx context.Context, input T, runInfo *RunInfo, handlers []Handler) (context.Context, T) {
	for i := len(handlers) - 1; i >= 0; i-- {
		ctx = handlers[i].OnStart(ctx, runInfo, input)
	}
	return ctx, input
}

// OnEndHandle 顺序执行 OnEnd。
func OnEndHandle[T any](ctx context.Context, output T, runInfo *RunInfo, handlers []Handler) (context.Context, T) {
	for _, handler := range handlers {
		ctx = handler.OnEnd(ctx, runInfo, output)
	}
	return ctx, output
}

// OnErrorHandle 顺序执行 OnError。
func OnErrorHandle(ctx context.Context, err error, runInfo *RunInfo, handlers []Handler) (context.Context, error) {
	for _, handler := range handlers {
		ctx = handler.OnError(ctx, runInfo, err)
	}
	return ctx, err
}

// onWithStreamHandle 为每个处理器复制一份流，最后一份返回给调用方。
func onWithStreamHandle[S any](ctx context.Context, inOut S, handlers []Handler,
	cpy func(int) []S, handle func(context.Context, Handler, S) context.Context) (context.Context, S) {
	if len(handlers) == 0 {
		return ctx, inOut
	}
	inOuts := cpy(len(handlers) + 1)
	for i, handler := range handlers {
		ctx = handle(ctx, handler, inOuts[i])
	}
	return ctx, inOuts[len(inOuts)-1]
}

// OnStartWithStreamInputHandle 流式输入开始时的处理。
func OnStartWithStreamInputHandle[T any](ctx context.Context, input *schema.StreamReader[T],
	runInfo *RunInfo, handlers []Handler) (context.Context, *schema.StreamReader[T]) {
	handlers = generic.Reverse(handlers)
	handle := func(ctx context.Context, handler Handler, in *schema.StreamReader[T]) context.Context {
		in_ := schema.StreamReaderWithConvert(in, func(i T) (CallbackInput, error) { return i, nil })
		return handler.OnStartWithStreamInput(ctx, runInfo, in_)
	}
	return onWithStreamHandle(ctx, input, handlers, input.Copy, handle)
}

// OnEndWithStreamOutputHandle 流式输出开始时的处理。
func OnEndWithStreamOutputHandle[T any](ctx context.Context, output *schema.StreamReader[T],
	runInfo *RunInfo, handlers []Handler) (context.Context, *schema.StreamReader[T]) {
	handle := func(ctx context.Context, handler Handler, out *schema.StreamReader[T]) context.Context {
		out_ := schema.StreamReaderWithConvert(out, func(i T) (CallbackOutput, error) { return i, nil })
		return handler.OnEndWithStreamOutput(ctx, runInfo, out_)
	}
	return onWithStreamHandle(ctx, output, handlers, output.Copy, handle)
}
