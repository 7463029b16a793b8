package awel

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/favbox/gptdb/schema"
)

// ====== Map ======

// MapOperator 对单个上游输出做变换，上游是流时逐项变换并输出流。
type MapOperator[I, O any] struct {
	*BaseOperator
	fn func(ctx context.Context, in I) (O, error)
}

// NewMapOperator 创建 map 算子。
func NewMapOperator[I, O any](fn func(ctx context.Context, in I) (O, error), opts ...OperatorOption) *MapOperator[I, O] {
	return &MapOperator[I, O]{BaseOperator: NewBaseOperator(OperatorTypeMap, opts...), fn: fn}
}

func (m *MapOperator[I, O]) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	if single.IsStream() {
		sr := schema.StreamReaderWithConvert(single.Stream(), func(v any) (any, error) {
			i, err := convertInput[I](v)
			if err != nil {
				return nil, err
			}
			o, err := m.fn(ctx, i)
			if err != nil {
				return nil, err
			}
			return o, nil
		})
		return NewStreamOutput(sr), nil
	}
	i, err := convertInput[I](single.Value())
	if err != nil {
		return nil, err
	}
	o, err := m.fn(ctx, i)
	if err != nil {
		return nil, err
	}
	return NewValueOutput(o), nil
}

// ====== Join ======

// JoinFunc 合并函数，values 与上游声明顺序一致，被跳过的上游为 nil。
type JoinFunc func(ctx context.Context, values []any) (any, error)

// JoinOperator 合并多个上游的单值输出。
type JoinOperator struct {
	*BaseOperator
	fn JoinFunc
}

// NewJoinOperator 创建 join 算子。
func NewJoinOperator(fn JoinFunc, opts ...OperatorOption) *JoinOperator {
	return &JoinOperator{BaseOperator: NewBaseOperator(OperatorTypeJoin, opts...), fn: fn}
}

// NewJoinOperator2 两个上游的类型化合并。
func NewJoinOperator2[A, B, O any](fn func(ctx context.Context, a A, b B) (O, error), opts ...OperatorOption) *JoinOperator {
	return NewJoinOperator(func(ctx context.Context, values []any) (any, error) {
		if len(values) != 2 {
			return nil, fmt.Errorf("join expects 2 upstream outputs, got %d", len(values))
		}
		a, err := convertInput[A](values[0])
		if err != nil {
			return nil, err
		}
		b, err := convertInput[B](values[1])
		if err != nil {
			return nil, err
		}
		o, err := fn(ctx, a, b)
		if err != nil {
			return nil, err
		}
		return o, nil
	}, opts...)
}

func (j *JoinOperator) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	values, err := in.Values()
	if err != nil {
		return nil, err
	}
	out, err := j.fn(ctx, values)
	if err != nil {
		return nil, err
	}
	return NewValueOutput(out), nil
}

// BranchJoinOperator 汇合分支，输出唯一未被跳过的上游，流式输出原样传递。
type BranchJoinOperator struct {
	*BaseOperator
}

// NewBranchJoinOperator 创建分支汇合算子。
func NewBranchJoinOperator(opts ...OperatorOption) *BranchJoinOperator {
	return &BranchJoinOperator{BaseOperator: NewBaseOperator(OperatorTypeJoin, opts...)}
}

func (b *BranchJoinOperator) Execute(_ context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	if single.IsStream() {
		return NewStreamOutput(single.Stream()), nil
	}
	return NewValueOutput(single.Value()), nil
}

// ====== Branch ======

// BranchFunc 分支条件。
type BranchFunc func(ctx context.Context, input any) (bool, error)

// Branch 条件与其选中的下游。
type Branch struct {
	Cond   BranchFunc
	Target Operator
}

// BranchOperator 按条件选择下游节点，未选中的下游被跳过，输入原样传给选中的下游。
// 未出现在任何 Branch 中的下游不受影响。
type BranchOperator struct {
	*BaseOperator
	branches []Branch
}

// NewBranchOperator 创建分支算子。
func NewBranchOperator(branches []Branch, opts ...OperatorOption) *BranchOperator {
	return &BranchOperator{BaseOperator: NewBaseOperator(OperatorTypeBranch, opts...), branches: branches}
}

func (b *BranchOperator) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	if single.IsStream() {
		return nil, fmt.Errorf("branch: %w", ErrStreamInput)
	}
	value := single.Value()

	selected := make(map[string]bool, len(b.branches))
	for _, br := range b.branches {
		ok, err := br.Cond(ctx, value)
		if err != nil {
			return nil, err
		}
		id := br.Target.NodeID()
		selected[id] = selected[id] || ok
	}

	out := NewValueOutput(value)
	for id, ok := range selected {
		if ok {
			continue
		}
		if out.skip == nil {
			out.skip = make(map[string]struct{})
		}
		out.skip[id] = struct{}{}
	}
	return out, nil
}

// ====== Input ======

// InputSource 输入算子的数据来源。
type InputSource interface {
	Read(ctx context.Context, in *TaskInput) (*TaskOutput, error)
}

type simpleSource struct{ v any }

func (s simpleSource) Read(context.Context, *TaskInput) (*TaskOutput, error) {
	return NewValueOutput(s.v), nil
}

// SimpleInputSource 固定的值。
func SimpleInputSource(v any) InputSource {
	return simpleSource{v: v}
}

type callDataSource struct{}

func (callDataSource) Read(_ context.Context, in *TaskInput) (*TaskOutput, error) {
	return in.Single()
}

// CallDataInputSource 调用时传入的数据，流式调用数据原样传递。
func CallDataInputSource() InputSource {
	return callDataSource{}
}

type funcSource func(ctx context.Context) (any, error)

func (f funcSource) Read(ctx context.Context, _ *TaskInput) (*TaskOutput, error) {
	v, err := f(ctx)
	if err != nil {
		return nil, err
	}
	return NewValueOutput(v), nil
}

// FuncInputSource 每次运行调用 fn 取值。
func FuncInputSource(fn func(ctx context.Context) (any, error)) InputSource {
	return funcSource(fn)
}

// InputOperator 从 InputSource 读取数据，通常作为根节点。
type InputOperator struct {
	*BaseOperator
	source InputSource
}

// NewInputOperator 创建输入算子。
func NewInputOperator(source InputSource, opts ...OperatorOption) *InputOperator {
	return &InputOperator{BaseOperator: NewBaseOperator(OperatorTypeInput, opts...), source: source}
}

func (i *InputOperator) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	return i.source.Read(ctx, in)
}

// ====== Trigger ======

// HTTPTrigger 以 HTTP 请求体作为调用数据的触发器，运行时原样传递调用数据。
type HTTPTrigger struct {
	*BaseOperator
	Path    string
	Methods []string
}

// NewHTTPTrigger 创建 HTTP 触发器，methods 为空时默认 POST。
func NewHTTPTrigger(path string, methods []string, opts ...OperatorOption) *HTTPTrigger {
	if len(methods) == 0 {
		methods = []string{http.MethodPost}
	}
	for i, m := range methods {
		methods[i] = strings.ToUpper(m)
	}
	return &HTTPTrigger{
		BaseOperator: NewBaseOperator(OperatorTypeTrigger, opts...),
		Path:         "/" + strings.TrimPrefix(path, "/"),
		Methods:      methods,
	}
}

// Allow 是否接受该 HTTP 方法。
func (t *HTTPTrigger) Allow(method string) bool {
	for _, m := range t.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (t *HTTPTrigger) Execute(_ context.Context, in *TaskInput) (*TaskOutput, error) {
	return in.Single()
}

// Triggers 返回图中的全部 HTTP 触发器。
func Triggers(dag *DAG) []*HTTPTrigger {
	var out []*HTTPTrigger
	for _, op := range dag.Nodes() {
		if t, ok := op.(*HTTPTrigger); ok {
			out = append(out, t)
		}
	}
	return out
}
