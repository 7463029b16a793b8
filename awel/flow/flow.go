package flow

import (
	"context"
	"errors"
	"fmt"

	"github.com/favbox/gptdb/awel"
)

var (
	// ErrUnknownOperator 流程引用了未注册的算子
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrDanglingEdge 连线两端的节点不存在
	ErrDanglingEdge = errors.New("dangling edge")
	// ErrEmptyFlow 流程没有节点
	ErrEmptyFlow = errors.New("flow has no nodes")
)

// FlowNodeData 节点引用的算子与参数值。
type FlowNodeData struct {
	// Name 注册表中的算子名称
	Name string `json:"name"`
	// Label 节点展示名称，默认取算子 Label
	Label      string         `json:"label,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// FlowNode 流程节点。
type FlowNode struct {
	ID   string       `json:"id"`
	Data FlowNodeData `json:"data"`
}

// FlowEdge 流程连线。
type FlowEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// FlowData 流程编辑器保存的图结构。
type FlowData struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []FlowEdge `json:"edges"`
}

// ResourceResolver 将资源参数的引用解析为组件实例。
type ResourceResolver interface {
	ResolveResource(ctx context.Context, resourceType, ref string) (any, error)
}

// ResourceResolverFunc 函数形式的 ResourceResolver。
type ResourceResolverFunc func(ctx context.Context, resourceType, ref string) (any, error)

func (f ResourceResolverFunc) ResolveResource(ctx context.Context, resourceType, ref string) (any, error) {
	return f(ctx, resourceType, ref)
}

// BuildDAG 按流程数据实例化算子并连接成 DAG。
//
// 节点 ID 沿用流程中的 ID；未知算子、缺少必填参数、悬空连线与环都会返回错误。
func BuildDAG(ctx context.Context, reg *Registry, flowName string, data *FlowData, resources ResourceResolver) (*awel.DAG, error) {
	if data == nil || len(data.Nodes) == 0 {
		return nil, ErrEmptyFlow
	}
	dag := awel.NewDAG(flowName)
	ops := make(map[string]awel.Operator, len(data.Nodes))
	for _, node := range data.Nodes {
		op, err := buildNode(ctx, reg, node, resources)
		if err != nil {
			return nil, fmt.Errorf("build flow '%s' node '%s': %w", flowName, node.ID, err)
		}
		if err = dag.AddNode(op); err != nil {
			return nil, fmt.Errorf("build flow '%s': %w", flowName, err)
		}
		ops[node.ID] = op
	}
	for _, edge := range data.Edges {
		up, ok1 := ops[edge.Source]
		down, ok2 := ops[edge.Target]
		if !ok1 || !ok2 {
			return nil, fmt.Errorf("build flow '%s': %w: %s -> %s", flowName, ErrDanglingEdge, edge.Source, edge.Target)
		}
		if err := dag.AddEdge(up, down); err != nil {
			return nil, fmt.Errorf("build flow '%s': %w", flowName, err)
		}
	}
	return dag, nil
}

func buildNode(ctx context.Context, reg *Registry, node FlowNode, resources ResourceResolver) (awel.Operator, error) {
	meta, factory, ok := reg.Get(node.Data.Name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOperator, node.Data.Name)
	}
	values, err := meta.ResolveParameters(node.Data.Parameters)
	if err != nil {
		return nil, err
	}
	for _, p := range meta.Parameters {
		if p.Type != ParameterTypeResource || values[p.Name] == nil {
			continue
		}
		if resources == nil {
			return nil, fmt.Errorf("parameter '%s': no resource resolver available", p.Name)
		}
		inst, err := resources.ResolveResource(ctx, p.ResourceType, values[p.Name].(string))
		if err != nil {
			return nil, fmt.Errorf("parameter '%s': %w", p.Name, err)
		}
		values[p.Name] = inst
	}

	label := node.Data.Label
	if label == "" {
		label = meta.Label
	}
	return factory(ctx, Params(values), awel.WithNodeID(node.ID), awel.WithNodeName(label))
}

// Leaf 返回 DAG 唯一的叶子节点。
func Leaf(dag *awel.DAG) (awel.Operator, error) {
	leaves := dag.LeafNodes()
	if len(leaves) != 1 {
		return nil, fmt.Errorf("flow '%s' must have exactly one leaf node, got %d", dag.Name(), len(leaves))
	}
	return leaves[0], nil
}
