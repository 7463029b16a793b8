package awel

import (
	"context"
	"reflect"
	"strings"

	"github.com/google/uuid"

	"github.com/favbox/gptdb/internal/generic"
)

// Operator AWEL 图中的节点。
// 具体算子嵌入 *BaseOperator 获得节点标识与图关系，只需实现 Execute。
type Operator interface {
	NodeID() string
	NodeName() string
	OperatorType() OperatorType
	DAG() *DAG
	Upstreams() []Operator
	Downstreams() []Operator
	// Execute 执行一次节点，输入按上游声明顺序排列
	Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error)

	base() *BaseOperator
}

// BaseOperator 算子公共部分。
type BaseOperator struct {
	id   string
	name string
	typ  OperatorType
	dag  *DAG
}

// OperatorOption 算子构造选项。
type OperatorOption func(*BaseOperator)

// WithNodeID 指定节点 ID，默认随机生成。
func WithNodeID(id string) OperatorOption {
	return func(b *BaseOperator) {
		b.id = id
	}
}

// WithNodeName 指定节点名称。
func WithNodeName(name string) OperatorOption {
	return func(b *BaseOperator) {
		b.name = name
	}
}

// NewBaseOperator 创建算子公共部分，供自定义算子嵌入。
func NewBaseOperator(typ OperatorType, opts ...OperatorOption) *BaseOperator {
	b := &BaseOperator{typ: typ}
	for _, opt := range opts {
		opt(b)
	}
	if b.id == "" {
		b.id = uuid.NewString()
	}
	return b
}

func (b *BaseOperator) base() *BaseOperator { return b }

// NodeID 节点 ID。
func (b *BaseOperator) NodeID() string { return b.id }

// NodeName 节点名称，未设置时返回 ID。
func (b *BaseOperator) NodeName() string {
	if b.name == "" {
		return b.id
	}
	return b.name
}

// OperatorType 算子种类。
func (b *BaseOperator) OperatorType() OperatorType { return b.typ }

// DAG 节点所属的图，尚未加入图时为 nil。
func (b *BaseOperator) DAG() *DAG { return b.dag }

// Upstreams 上游节点，按连接顺序。
func (b *BaseOperator) Upstreams() []Operator {
	if b.dag == nil {
		return nil
	}
	return b.dag.Upstreams(b.id)
}

// Downstreams 下游节点，按连接顺序。
func (b *BaseOperator) Downstreams() []Operator {
	if b.dag == nil {
		return nil
	}
	return b.dag.Downstreams(b.id)
}

// convertInput 将任意值转换为 T，nil 转换为零值。
func convertInput[T any](v any) (T, error) {
	var zero T
	if v == nil {
		return zero, nil
	}
	t, ok := v.(T)
	if !ok {
		return zero, newUnexpectedInputTypeErr(generic.TypeOf[T](), v)
	}
	return t, nil
}

// operatorTypeName 算子的 Go 类型名，用于回调与指标。
func operatorTypeName(op Operator) string {
	name := generic.ParseTypeName(reflect.ValueOf(op))
	if i := strings.IndexByte(name, '['); i > 0 {
		name = name[:i]
	}
	return name
}
