package awel

// NodeInfo 节点描述，用于展示与调试。
type NodeInfo struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	OperatorType OperatorType `json:"operator_type"`
	// GoType 算子的 Go 类型名
	GoType      string   `json:"go_type"`
	Upstreams   []string `json:"upstreams"`
	Downstreams []string `json:"downstreams"`
}

// EdgeInfo 连线描述。
type EdgeInfo struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// DAGInfo 图描述。
type DAGInfo struct {
	Name   string     `json:"name"`
	Nodes  []NodeInfo `json:"nodes"`
	Edges  []EdgeInfo `json:"edges"`
	Sealed bool       `json:"sealed"`
}

// Describe 返回图结构的快照，节点按加入顺序排列。
func (d *DAG) Describe() *DAGInfo {
	d.mu.RLock()
	defer d.mu.RUnlock()

	info := &DAGInfo{Name: d.name, Sealed: d.sealed}
	for _, id := range d.order {
		op := d.nodes[id]
		info.Nodes = append(info.Nodes, NodeInfo{
			ID:           id,
			Name:         op.NodeName(),
			OperatorType: op.OperatorType(),
			GoType:       operatorTypeName(op),
			Upstreams:    append([]string{}, d.upstreams[id]...),
			Downstreams:  append([]string{}, d.downstreams[id]...),
		})
		for _, down := range d.downstreams[id] {
			info.Edges = append(info.Edges, EdgeInfo{Source: id, Target: down})
		}
	}
	return info
}
