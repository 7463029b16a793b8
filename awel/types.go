package awel

import (
	"errors"
	"io"

	"github.com/favbox/gptdb/schema"
)

// OperatorType 算子种类。
type OperatorType string

const (
	OperatorTypeMap             OperatorType = "map"
	OperatorTypeReduce          OperatorType = "reduce"
	OperatorTypeInput           OperatorType = "input"
	OperatorTypeBranch          OperatorType = "branch"
	OperatorTypeStreamify       OperatorType = "streamify"
	OperatorTypeUnstreamify     OperatorType = "unstreamify"
	OperatorTypeTransformStream OperatorType = "transform_stream"
	OperatorTypeJoin            OperatorType = "join"
	OperatorTypeTrigger         OperatorType = "trigger"
)

// IsStreamOutput 该种类的算子是否产出流。
func (t OperatorType) IsStreamOutput() bool {
	return t == OperatorTypeStreamify || t == OperatorTypeTransformStream
}

// TaskOutput 节点的一次输出，要么是单值，要么是流。
type TaskOutput struct {
	value  any
	stream *schema.StreamReader[any]
	// skip 需要跳过的下游节点 ID，由分支算子设置
	skip map[string]struct{}
}

// NewValueOutput 创建单值输出。
func NewValueOutput(v any) *TaskOutput {
	return &TaskOutput{value: v}
}

// NewStreamOutput 创建流式输出。
func NewStreamOutput(sr *schema.StreamReader[any]) *TaskOutput {
	return &TaskOutput{stream: sr}
}

// IsStream 是否为流式输出。
func (o *TaskOutput) IsStream() bool {
	return o != nil && o.stream != nil
}

// Value 返回单值，流式输出返回 nil。
func (o *TaskOutput) Value() any {
	if o == nil {
		return nil
	}
	return o.value
}

// Stream 返回流，单值输出返回 nil。
func (o *TaskOutput) Stream() *schema.StreamReader[any] {
	if o == nil {
		return nil
	}
	return o.stream
}

// AsStream 以流的形式读取输出，单值被包装成只有一个元素的流。
func (o *TaskOutput) AsStream() *schema.StreamReader[any] {
	if o.IsStream() {
		return o.stream
	}
	return schema.StreamReaderFromArray([]any{o.Value()})
}

// Collect 读取完整的输出值。流式输出按 merge 合并，merge 为 nil 时取最后一项。
func (o *TaskOutput) Collect(merge func(acc, next any) any) (any, error) {
	if !o.IsStream() {
		return o.Value(), nil
	}
	v, err := schema.ConcatStream(o.stream, merge)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	return v, err
}

// Skipped 判断下游节点是否被该输出跳过。
func (o *TaskOutput) Skipped(nodeID string) bool {
	if o == nil || o.skip == nil {
		return false
	}
	_, ok := o.skip[nodeID]
	return ok
}

// copy 为 n 个消费者复制输出，流会被分叉。
func (o *TaskOutput) copy(n int) []*TaskOutput {
	outs := make([]*TaskOutput, n)
	if !o.IsStream() {
		for i := range outs {
			outs[i] = o
		}
		return outs
	}
	srs := o.stream.Copy(n)
	for i := range outs {
		outs[i] = &TaskOutput{stream: srs[i], skip: o.skip}
	}
	return outs
}

func (o *TaskOutput) close() {
	if o.IsStream() {
		o.stream.Close()
	}
}

// TaskInput 节点的输入，按上游声明顺序排列。
// 被跳过的上游对应位置为 nil。
type TaskInput struct {
	Outputs []*TaskOutput
}

// Single 返回唯一一个非空的上游输出。
func (in *TaskInput) Single() (*TaskOutput, error) {
	var found *TaskOutput
	for _, o := range in.Outputs {
		if o == nil {
			continue
		}
		if found != nil {
			return nil, errors.New("operator expects a single upstream output, got more than one")
		}
		found = o
	}
	if found == nil {
		return NewValueOutput(nil), nil
	}
	return found, nil
}

// Values 返回全部单值，被跳过的上游为 nil，流式输入返回 ErrStreamInput。
func (in *TaskInput) Values() ([]any, error) {
	vs := make([]any, len(in.Outputs))
	for i, o := range in.Outputs {
		if o.IsStream() {
			return nil, ErrStreamInput
		}
		vs[i] = o.Value()
	}
	return vs, nil
}

func (in *TaskInput) close() {
	for _, o := range in.Outputs {
		if o != nil {
			o.close()
		}
	}
}
