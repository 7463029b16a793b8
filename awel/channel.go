package awel

/*
 * channel.go - 节点依赖追踪
 *
 * 每个待执行节点持有一个 nodeChannel，上游完成时上报值或跳过；
 * 全部上游上报后节点可调度：任一上游就绪则执行，全部跳过则自身跳过。
 */

// dependencyState 上游依赖的状态。
type dependencyState uint8

const (
	// dependencyStateWaiting 上游尚未完成
	dependencyStateWaiting dependencyState = iota
	// dependencyStateReady 上游已产出输出
	dependencyStateReady
	// dependencyStateSkipped 上游被跳过，或分支未选中当前节点
	dependencyStateSkipped
)

type nodeChannel struct {
	upstreams []string
	states    map[string]dependencyState
	values    map[string]*TaskOutput
	waiting   int
}

func newNodeChannel(upstreams []string) *nodeChannel {
	states := make(map[string]dependencyState, len(upstreams))
	for _, up := range upstreams {
		states[up] = dependencyStateWaiting
	}
	return &nodeChannel{
		upstreams: upstreams,
		states:    states,
		values:    make(map[string]*TaskOutput, len(upstreams)),
		waiting:   len(upstreams),
	}
}

// reportValue 上游产出输出。
func (c *nodeChannel) reportValue(from string, out *TaskOutput) {
	if c.states[from] != dependencyStateWaiting {
		return
	}
	c.states[from] = dependencyStateReady
	c.values[from] = out
	c.waiting--
}

// reportSkip 上游被跳过。
func (c *nodeChannel) reportSkip(from string) {
	if c.states[from] != dependencyStateWaiting {
		return
	}
	c.states[from] = dependencyStateSkipped
	c.waiting--
}

// resolved 全部上游都已上报。
func (c *nodeChannel) resolved() bool {
	return c.waiting == 0
}

// skipped 存在上游且全部被跳过。
func (c *nodeChannel) skipped() bool {
	if len(c.upstreams) == 0 {
		return false
	}
	for _, st := range c.states {
		if st != dependencyStateSkipped {
			return false
		}
	}
	return true
}

// input 按上游声明顺序组装输入，被跳过的上游为 nil。
func (c *nodeChannel) input() *TaskInput {
	outs := make([]*TaskOutput, len(c.upstreams))
	for i, up := range c.upstreams {
		outs[i] = c.values[up]
	}
	return &TaskInput{Outputs: outs}
}

// release 关闭已收到但不会被消费的流。
func (c *nodeChannel) release() {
	for _, v := range c.values {
		v.close()
	}
	c.values = map[string]*TaskOutput{}
}
