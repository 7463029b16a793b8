package callbacks

import (
	"context"
	"sync"
)

// ctxManagerKey 上下文中管理器的键。
type ctxManagerKey struct{}

// ctxRunInfoKey 上下文中运行信息的键。
type ctxRunInfoKey struct{}

// manager 回调管理器，持有全局与局部处理器以及当前运行信息。
type manager struct {
	globalHandlers []Handler
	handlers       []Handler
	runInfo        *RunInfo
}

var (
	globalMu       sync.RWMutex
	globalHandlers []Handler
)

// AppendGlobalHandlers 追加全局处理器，之后创建的管理器都会包含它们。
func AppendGlobalHandlers(handlers ...Handler) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHandlers = append(globalHandlers, handlers...)
}

// ResetGlobalHandlers 清空全局处理器，主要用于测试。
func ResetGlobalHandlers() {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalHandlers = nil
}

func newManager(runInfo *RunInfo, handlers ...Handler) (*manager, bool) {
	globalMu.RLock()
	hs := make([]Handler, len(globalHandlers))
	copy(hs, globalHandlers)
	globalMu.RUnlock()

	if len(handlers)+len(hs) == 0 {
		return nil, false
	}

	return &manager{
		globalHandlers: hs,
		handlers:       handlers,
		runInfo:        runInfo,
	}, true
}

func (m *manager) withRunInfo(runInfo *RunInfo) *manager {
	if m == nil {
		return nil
	}
	n := *m
	n.runInfo = runInfo
	return &n
}

func managerFromCtx(ctx context.Context) (*manager, bool) {
	m, ok := ctx.Value(ctxManagerKey{}).(*manager)
	if ok && m != nil {
		n := *m
		return &n, true
	}
	return nil, false
}

func ctxWithManager(ctx context.Context, m *manager) context.Context {
	return context.WithValue(ctx, ctxManagerKey{}, m)
}
