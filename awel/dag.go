package awel

import (
	"fmt"
	"sync"
)

// DAG 具名的算子有向无环图。
//
// 构建阶段的第一个错误会被记录下来，之后的修改全部返回同一个错误；
// 第一次运行后图被封存，不能再加入节点或边。
type DAG struct {
	name string

	mu          sync.RWMutex
	nodes       map[string]Operator
	order       []string
	upstreams   map[string][]string
	downstreams map[string][]string
	buildErr    error
	sealed      bool
}

// NewDAG 创建空图。
func NewDAG(name string) *DAG {
	return &DAG{
		name:        name,
		nodes:       make(map[string]Operator),
		upstreams:   make(map[string][]string),
		downstreams: make(map[string][]string),
	}
}

// Name 图名称。
func (d *DAG) Name() string { return d.name }

// AddNode 加入节点，节点 ID 在图内唯一。
func (d *DAG) AddNode(op Operator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buildErr != nil {
		return d.buildErr
	}
	if d.sealed {
		return ErrDAGSealed
	}
	return d.addNodeLocked(op)
}

func (d *DAG) addNodeLocked(op Operator) error {
	b := op.base()
	if _, ok := d.nodes[b.id]; ok {
		d.buildErr = fmt.Errorf("node '%s' already present", b.id)
		return d.buildErr
	}
	if b.dag != nil && b.dag != d {
		d.buildErr = fmt.Errorf("node '%s' already belongs to dag '%s'", b.id, b.dag.name)
		return d.buildErr
	}
	b.dag = d
	d.nodes[b.id] = op
	d.order = append(d.order, b.id)
	return nil
}

// AddEdge 连接两个已加入图的节点。
func (d *DAG) AddEdge(up, down Operator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buildErr != nil {
		return d.buildErr
	}
	if d.sealed {
		return ErrDAGSealed
	}
	return d.addEdgeLocked(up.NodeID(), down.NodeID())
}

func (d *DAG) addEdgeLocked(upID, downID string) error {
	if _, ok := d.nodes[upID]; !ok {
		d.buildErr = fmt.Errorf("edge start node '%s' needs to be added to DAG first", upID)
		return d.buildErr
	}
	if _, ok := d.nodes[downID]; !ok {
		d.buildErr = fmt.Errorf("edge end node '%s' needs to be added to DAG first", downID)
		return d.buildErr
	}
	for _, id := range d.downstreams[upID] {
		if id == downID {
			d.buildErr = fmt.Errorf("edge[%s]-[%s] already present", upID, downID)
			return d.buildErr
		}
	}
	if upID == downID || d.reachableLocked(downID, upID) {
		d.buildErr = fmt.Errorf("%w: edge[%s]-[%s]", ErrCycle, upID, downID)
		return d.buildErr
	}
	d.downstreams[upID] = append(d.downstreams[upID], downID)
	d.upstreams[downID] = append(d.upstreams[downID], upID)
	return nil
}

// reachableLocked 判断从 from 沿下游方向能否到达 to。
func (d *DAG) reachableLocked(from, to string) bool {
	visited := map[string]bool{from: true}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur == to {
			return true
		}
		for _, next := range d.downstreams[cur] {
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// Connect 连接 up 与 down，尚未加入图的节点会被自动加入。
func (d *DAG) Connect(up, down Operator) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buildErr != nil {
		return d.buildErr
	}
	if d.sealed {
		return ErrDAGSealed
	}
	for _, op := range []Operator{up, down} {
		if _, ok := d.nodes[op.NodeID()]; ok {
			continue
		}
		if err := d.addNodeLocked(op); err != nil {
			return err
		}
	}
	return d.addEdgeLocked(up.NodeID(), down.NodeID())
}

// Chain 依次连接 ops[0] >> ops[1] >> ...
func (d *DAG) Chain(ops ...Operator) error {
	if len(ops) == 1 {
		if _, ok := d.Node(ops[0].NodeID()); ok {
			return nil
		}
		return d.AddNode(ops[0])
	}
	for i := 1; i < len(ops); i++ {
		if err := d.Connect(ops[i-1], ops[i]); err != nil {
			return err
		}
	}
	return nil
}

// Err 构建阶段记录的错误。
func (d *DAG) Err() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.buildErr
}

// Seal 封存图，之后不能再修改。
func (d *DAG) Seal() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.buildErr != nil {
		return d.buildErr
	}
	d.sealed = true
	return nil
}

// Sealed 图是否已封存。
func (d *DAG) Sealed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.sealed
}

// Node 按 ID 查找节点。
func (d *DAG) Node(id string) (Operator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	op, ok := d.nodes[id]
	return op, ok
}

// Nodes 按加入顺序返回全部节点。
func (d *DAG) Nodes() []Operator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]Operator, 0, len(d.order))
	for _, id := range d.order {
		out = append(out, d.nodes[id])
	}
	return out
}

// Upstreams 节点的上游。
func (d *DAG) Upstreams(id string) []Operator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookupLocked(d.upstreams[id])
}

// Downstreams 节点的下游。
func (d *DAG) Downstreams(id string) []Operator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookupLocked(d.downstreams[id])
}

func (d *DAG) lookupLocked(ids []string) []Operator {
	out := make([]Operator, 0, len(ids))
	for _, id := range ids {
		out = append(out, d.nodes[id])
	}
	return out
}

// RootNodes 没有上游的节点。
func (d *DAG) RootNodes() []Operator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Operator
	for _, id := range d.order {
		if len(d.upstreams[id]) == 0 {
			out = append(out, d.nodes[id])
		}
	}
	return out
}

// LeafNodes 没有下游的节点。
func (d *DAG) LeafNodes() []Operator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Operator
	for _, id := range d.order {
		if len(d.downstreams[id]) == 0 {
			out = append(out, d.nodes[id])
		}
	}
	return out
}

// plan 一次运行需要执行的子图。
type plan struct {
	leaf        string
	order       []string
	nodes       map[string]Operator
	upstreams   map[string][]string
	downstreams map[string][]string
}

// subGraph 计算叶子节点及其全部祖先组成的子图，节点按拓扑序排列。
func (d *DAG) subGraph(leafID string) (*plan, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.nodes[leafID]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, leafID)
	}
	in := map[string]bool{leafID: true}
	stack := []string{leafID}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, up := range d.upstreams[cur] {
			if !in[up] {
				in[up] = true
				stack = append(stack, up)
			}
		}
	}

	p := &plan{
		leaf:        leafID,
		nodes:       make(map[string]Operator, len(in)),
		upstreams:   make(map[string][]string, len(in)),
		downstreams: make(map[string][]string, len(in)),
	}
	indegree := make(map[string]int, len(in))
	for id := range in {
		p.nodes[id] = d.nodes[id]
		p.upstreams[id] = append([]string(nil), d.upstreams[id]...)
		indegree[id] = len(d.upstreams[id])
		for _, down := range d.downstreams[id] {
			if in[down] {
				p.downstreams[id] = append(p.downstreams[id], down)
			}
		}
	}

	// Kahn 拓扑排序，同层保持加入顺序
	var queue []string
	for _, id := range d.order {
		if in[id] && indegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		p.order = append(p.order, cur)
		for _, next := range p.downstreams[cur] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if len(p.order) != len(in) {
		return nil, ErrCycle
	}
	return p, nil
}
