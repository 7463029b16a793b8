package awel

import (
	"context"
	"errors"
	"io"

	"github.com/favbox/gptdb/schema"
)

// typedStream 将节点间传递的 any 流转换为 T 流。
func typedStream[T any](sr *schema.StreamReader[any]) *schema.StreamReader[T] {
	return schema.StreamReaderWithConvert(sr, convertInput[T])
}

// anyStream 将 T 流转换为节点间传递的 any 流。
func anyStream[T any](sr *schema.StreamReader[T]) *schema.StreamReader[any] {
	return schema.StreamReaderWithConvert(sr, func(t T) (any, error) { return t, nil })
}

// StreamifyOperator 单值 → 流。
type StreamifyOperator[I, O any] struct {
	*BaseOperator
	fn func(ctx context.Context, in I) (*schema.StreamReader[O], error)
}

// NewStreamifyOperator 创建 streamify 算子。
func NewStreamifyOperator[I, O any](fn func(ctx context.Context, in I) (*schema.StreamReader[O], error), opts ...OperatorOption) *StreamifyOperator[I, O] {
	return &StreamifyOperator[I, O]{BaseOperator: NewBaseOperator(OperatorTypeStreamify, opts...), fn: fn}
}

func (s *StreamifyOperator[I, O]) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	if single.IsStream() {
		return nil, ErrStreamInput
	}
	i, err := convertInput[I](single.Value())
	if err != nil {
		return nil, err
	}
	sr, err := s.fn(ctx, i)
	if err != nil {
		return nil, err
	}
	return NewStreamOutput(anyStream(sr)), nil
}

// UnstreamifyOperator 流 → 单值，单值输入被视为只有一项的流。
type UnstreamifyOperator[I, O any] struct {
	*BaseOperator
	fn func(ctx context.Context, in *schema.StreamReader[I]) (O, error)
}

// NewUnstreamifyOperator 创建 unstreamify 算子。
func NewUnstreamifyOperator[I, O any](fn func(ctx context.Context, in *schema.StreamReader[I]) (O, error), opts ...OperatorOption) *UnstreamifyOperator[I, O] {
	return &UnstreamifyOperator[I, O]{BaseOperator: NewBaseOperator(OperatorTypeUnstreamify, opts...), fn: fn}
}

func (u *UnstreamifyOperator[I, O]) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	sr := typedStream[I](single.AsStream())
	defer sr.Close()
	o, err := u.fn(ctx, sr)
	if err != nil {
		return nil, err
	}
	return NewValueOutput(o), nil
}

// TransformStreamOperator 流 → 流。
type TransformStreamOperator[I, O any] struct {
	*BaseOperator
	fn func(ctx context.Context, in *schema.StreamReader[I]) (*schema.StreamReader[O], error)
}

// NewTransformStreamOperator 创建 transform_stream 算子。
func NewTransformStreamOperator[I, O any](fn func(ctx context.Context, in *schema.StreamReader[I]) (*schema.StreamReader[O], error), opts ...OperatorOption) *TransformStreamOperator[I, O] {
	return &TransformStreamOperator[I, O]{BaseOperator: NewBaseOperator(OperatorTypeTransformStream, opts...), fn: fn}
}

func (t *TransformStreamOperator[I, O]) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	sr, err := t.fn(ctx, typedStream[I](single.AsStream()))
	if err != nil {
		return nil, err
	}
	return NewStreamOutput(anyStream(sr)), nil
}

// ReduceStreamOperator 以 reduce 函数把流归约为单值。
type ReduceStreamOperator[I, O any] struct {
	*BaseOperator
	initial O
	fn      func(ctx context.Context, acc O, item I) (O, error)
}

// NewReduceStreamOperator 创建 reduce 算子。
func NewReduceStreamOperator[I, O any](initial O, fn func(ctx context.Context, acc O, item I) (O, error), opts ...OperatorOption) *ReduceStreamOperator[I, O] {
	return &ReduceStreamOperator[I, O]{BaseOperator: NewBaseOperator(OperatorTypeReduce, opts...), initial: initial, fn: fn}
}

func (r *ReduceStreamOperator[I, O]) Execute(ctx context.Context, in *TaskInput) (*TaskOutput, error) {
	single, err := in.Single()
	if err != nil {
		return nil, err
	}
	sr := typedStream[I](single.AsStream())
	defer sr.Close()

	acc := r.initial
	for {
		item, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if acc, err = r.fn(ctx, acc, item); err != nil {
			return nil, err
		}
	}
	return NewValueOutput(acc), nil
}
