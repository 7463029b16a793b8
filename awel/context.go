package awel

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type dagCtxKey struct{}

// DAGContext 一次运行的上下文，在同一次运行的全部节点间共享。
type DAGContext struct {
	// RunID 运行 ID
	RunID string
	// Streaming 调用方是否期望流式结果
	Streaming bool
	// Input 调用数据，由根节点读取
	Input any

	mu        sync.RWMutex
	shareData map[string]any
	outputs   map[string]any
}

func newDAGContext(input any, streaming bool) *DAGContext {
	return &DAGContext{
		RunID:     uuid.NewString(),
		Streaming: streaming,
		Input:     input,
		shareData: make(map[string]any),
		outputs:   make(map[string]any),
	}
}

// SaveToShareData 保存共享数据，overwrite 为 false 且键已存在时不覆盖并返回 false。
func (c *DAGContext) SaveToShareData(key string, value any, overwrite bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.shareData[key]; ok && !overwrite {
		return false
	}
	c.shareData[key] = value
	return true
}

// GetFromShareData 读取共享数据。
func (c *DAGContext) GetFromShareData(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.shareData[key]
	return v, ok
}

// NodeOutput 读取某个节点的单值输出，流式输出不会被记录。
func (c *DAGContext) NodeOutput(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.outputs[nodeID]
	return v, ok
}

func (c *DAGContext) saveOutput(nodeID string, out *TaskOutput) {
	if out.IsStream() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outputs[nodeID] = out.Value()
}

// DAGContextFrom 取出当前运行的 DAGContext，不在运行中时返回 nil。
func DAGContextFrom(ctx context.Context) *DAGContext {
	dc, _ := ctx.Value(dagCtxKey{}).(*DAGContext)
	return dc
}

func withDAGContext(ctx context.Context, dc *DAGContext) context.Context {
	return context.WithValue(ctx, dagCtxKey{}, dc)
}
