package awel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/internal/logging"
	"github.com/favbox/gptdb/internal/safe"
	"github.com/favbox/gptdb/schema"
)

// ====== 运行选项 ======

type runOptions struct {
	maxConcurrency int
	timeout        time.Duration
	streaming      bool
	handlers       []callbacks.Handler
	merge          func(acc, next any) any
}

// RunOption 运行选项。
type RunOption func(*runOptions)

// WithMaxConcurrency 同时执行的节点数上限，0 表示不限制。
func WithMaxConcurrency(n int) RunOption {
	return func(o *runOptions) {
		o.maxConcurrency = n
	}
}

// WithTimeout 单次运行的超时时间。
func WithTimeout(d time.Duration) RunOption {
	return func(o *runOptions) {
		o.timeout = d
	}
}

// WithStreaming 标记调用方期望流式结果，写入 DAGContext.Streaming。
func WithStreaming(streaming bool) RunOption {
	return func(o *runOptions) {
		o.streaming = streaming
	}
}

// WithCallbacks 为本次运行的每个节点追加回调处理器。
func WithCallbacks(handlers ...callbacks.Handler) RunOption {
	return func(o *runOptions) {
		o.handlers = append(o.handlers, handlers...)
	}
}

// WithStreamMerge CallOperator 收集流式结果时的合并函数，默认取最后一项。
func WithStreamMerge(merge func(acc, next any) any) RunOption {
	return func(o *runOptions) {
		o.merge = merge
	}
}

// ====== 运行器 ======

// WorkflowRunner 执行 DAG 的运行器。
type WorkflowRunner struct {
	opts []RunOption
}

// NewWorkflowRunner 创建运行器，opts 作为每次运行的默认选项。
func NewWorkflowRunner(opts ...RunOption) *WorkflowRunner {
	return &WorkflowRunner{opts: opts}
}

var defaultRunner = NewWorkflowRunner()

func (r *WorkflowRunner) resolve(opts []RunOption) *runOptions {
	o := &runOptions{}
	for _, opt := range r.opts {
		opt(o)
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute 执行 leaf 依赖的子图并返回 leaf 的输出。
//
// 每个节点只执行一次，相互独立的节点并发执行；任一节点失败时整个运行中止，
// 错误中带有出错节点的路径。leaf 被跳过时返回值为 nil 的输出。
func (r *WorkflowRunner) Execute(ctx context.Context, dag *DAG, leaf Operator, input any, opts ...RunOption) (*TaskOutput, error) {
	if leaf.DAG() != dag {
		return nil, fmt.Errorf("%w: node '%s' is not in dag '%s'", ErrNodeNotFound, leaf.NodeID(), dag.Name())
	}
	if err := dag.Seal(); err != nil {
		return nil, err
	}
	p, err := dag.subGraph(leaf.NodeID())
	if err != nil {
		return nil, err
	}

	o := r.resolve(opts)
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}
	dc := newDAGContext(input, o.streaming)
	ctx = withDAGContext(ctx, dc)

	e := &execution{dag: dag, plan: p, opts: o, dc: dc}
	start := time.Now()
	out, err := e.run(ctx)
	logging.FromContext(ctx).Debug("awel dag finished",
		"dag", dag.Name(), "run_id", dc.RunID, "leaf", leaf.NodeName(),
		"cost", time.Since(start), "error", err)
	return out, err
}

// nodeResult 节点执行结果。
type nodeResult struct {
	id  string
	out *TaskOutput
	err error
}

// execution 一次运行的调度状态，只在调度协程中访问。
type execution struct {
	dag  *DAG
	plan *plan
	opts *runOptions
	dc   *DAGContext

	channels map[string]*nodeChannel
	launched map[string]bool
	pending  int
	leafOut  *TaskOutput
}

func (e *execution) run(ctx context.Context) (*TaskOutput, error) {
	p := e.plan
	e.channels = make(map[string]*nodeChannel, len(p.order))
	e.launched = make(map[string]bool, len(p.order))
	e.pending = len(p.order)
	for _, id := range p.order {
		e.channels[id] = newNodeChannel(p.upstreams[id])
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.maxConcurrency > 0 {
		g.SetLimit(e.opts.maxConcurrency)
	}
	results := make(chan nodeResult, len(p.order))
	launch := func(id string, in *TaskInput) {
		e.launched[id] = true
		op := p.nodes[id]
		g.Go(func() error {
			out, err := e.runNode(gctx, op, in)
			results <- nodeResult{id: id, out: out, err: err}
			return err
		})
	}

	var resolve func(id string)
	var skip func(id string)
	skip = func(id string) {
		e.pending--
		e.channels[id].release()
		for _, down := range p.downstreams[id] {
			ch := e.channels[down]
			ch.reportSkip(id)
			if ch.resolved() {
				resolve(down)
			}
		}
	}
	resolve = func(id string) {
		ch := e.channels[id]
		if ch.skipped() {
			skip(id)
			return
		}
		launch(id, ch.input())
	}
	complete := func(id string, out *TaskOutput) {
		e.pending--
		e.dc.saveOutput(id, out)

		var consumers []string
		for _, down := range p.downstreams[id] {
			if !out.Skipped(down) {
				consumers = append(consumers, down)
			}
		}
		n := len(consumers)
		if id == p.leaf {
			n++
		}
		var copies []*TaskOutput
		if n == 0 {
			out.close()
		} else {
			copies = out.copy(n)
		}
		if id == p.leaf {
			e.leafOut = copies[len(copies)-1]
		}

		i := 0
		for _, down := range p.downstreams[id] {
			ch := e.channels[down]
			if out.Skipped(down) {
				ch.reportSkip(id)
			} else {
				ch.reportValue(id, copies[i])
				i++
			}
			if ch.resolved() {
				resolve(down)
			}
		}
	}

	roots := e.rootInputs()
	for _, id := range p.order {
		if len(p.upstreams[id]) == 0 {
			launch(id, roots[id])
		}
	}

	var runErr error
	for e.pending > 0 && runErr == nil {
		select {
		case res := <-results:
			if res.err != nil {
				runErr = wrapNodeError(p.nodes[res.id].NodeName(), res.err)
			} else {
				complete(res.id, res.out)
			}
		case <-ctx.Done():
			runErr = fmt.Errorf("dag '%s' run aborted: %w", e.dag.Name(), ctx.Err())
		}
	}

	if runErr == nil {
		_ = g.Wait()
		if e.leafOut == nil {
			return NewValueOutput(nil), nil
		}
		return e.leafOut, nil
	}

	e.abort(g, results)
	return nil, runErr
}

// rootInputs 为根节点准备调用数据，流式调用数据按根节点数量复制。
func (e *execution) rootInputs() map[string]*TaskInput {
	var roots []string
	for _, id := range e.plan.order {
		if len(e.plan.upstreams[id]) == 0 {
			roots = append(roots, id)
		}
	}
	var outs []*TaskOutput
	if sr, ok := e.dc.Input.(*schema.StreamReader[any]); ok {
		outs = NewStreamOutput(sr).copy(len(roots))
	} else {
		outs = NewValueOutput(e.dc.Input).copy(len(roots))
	}
	ins := make(map[string]*TaskInput, len(roots))
	for i, id := range roots {
		ins[id] = &TaskInput{Outputs: []*TaskOutput{outs[i]}}
	}
	return ins
}

// abort 释放未被消费的输入，并在后台回收仍在运行的节点产出。
func (e *execution) abort(g *errgroup.Group, results chan nodeResult) {
	for id, ch := range e.channels {
		if !e.launched[id] {
			ch.release()
		}
	}
	if e.leafOut != nil {
		e.leafOut.close()
	}
	go func() {
		_ = g.Wait()
		for {
			select {
			case res := <-results:
				if res.out != nil {
					res.out.close()
				}
			default:
				return
			}
		}
	}()
}

// runNode 执行单个节点并触发回调。
func (e *execution) runNode(ctx context.Context, op Operator, in *TaskInput) (*TaskOutput, error) {
	if err := ctx.Err(); err != nil {
		in.close()
		return nil, err
	}
	ctx = callbacks.AppendHandlers(ctx, &callbacks.RunInfo{
		Name:      op.NodeName(),
		Type:      operatorTypeName(op),
		Component: components.ComponentOfOperator,
	}, e.opts.handlers...)
	ctx, in = onNodeStart(ctx, in)

	start := time.Now()
	out, err := execute(ctx, op, in)
	if err != nil {
		in.close()
		callbacks.OnError(ctx, err)
		return nil, err
	}
	if out == nil {
		out = NewValueOutput(nil)
	}
	if out.IsStream() {
		_, sr := callbacks.OnEndWithStreamOutput(ctx, out.stream)
		out = &TaskOutput{stream: sr, skip: out.skip}
	} else {
		callbacks.OnEnd(ctx, out.value)
	}
	logging.FromContext(ctx).Debug("awel node finished",
		"node", op.NodeName(), "type", op.OperatorType(), "cost", time.Since(start))
	return out, nil
}

func execute(ctx context.Context, op Operator, in *TaskInput) (out *TaskOutput, err error) {
	defer safe.Recover(&err)
	return op.Execute(ctx, in)
}

// onNodeStart 触发 OnStart；唯一的输入是流时触发 OnStartWithStreamInput。
func onNodeStart(ctx context.Context, in *TaskInput) (context.Context, *TaskInput) {
	single, err := in.Single()
	if err != nil || !single.IsStream() {
		return callbacks.OnStart(ctx, in), in
	}
	ctx, sr := callbacks.OnStartWithStreamInput(ctx, single.stream)
	outs := make([]*TaskOutput, len(in.Outputs))
	for i, o := range in.Outputs {
		if o == single {
			outs[i] = &TaskOutput{stream: sr, skip: o.skip}
		} else {
			outs[i] = o
		}
	}
	return ctx, &TaskInput{Outputs: outs}
}

// ====== 调用入口 ======

// CallOperator 以非流式方式运行 op 所在的 DAG，返回 op 的完整输出。
// op 产出流时按 WithStreamMerge 收集，默认取最后一项。
func CallOperator(ctx context.Context, op Operator, input any, opts ...RunOption) (any, error) {
	return defaultRunner.Call(ctx, op, input, opts...)
}

// StreamOperator 以流式方式运行 op 所在的 DAG，单值输出被包装成只有一项的流。
func StreamOperator(ctx context.Context, op Operator, input any, opts ...RunOption) (*schema.StreamReader[any], error) {
	return defaultRunner.Stream(ctx, op, input, opts...)
}

// Call 见 CallOperator。
func (r *WorkflowRunner) Call(ctx context.Context, op Operator, input any, opts ...RunOption) (any, error) {
	dag, err := dagOf(op)
	if err != nil {
		return nil, err
	}
	opts = append(opts, WithStreaming(false))
	out, err := r.Execute(ctx, dag, op, input, opts...)
	if err != nil {
		return nil, err
	}
	return out.Collect(r.resolve(opts).merge)
}

// Stream 见 StreamOperator。
func (r *WorkflowRunner) Stream(ctx context.Context, op Operator, input any, opts ...RunOption) (*schema.StreamReader[any], error) {
	dag, err := dagOf(op)
	if err != nil {
		return nil, err
	}
	out, err := r.Execute(ctx, dag, op, input, append(opts, WithStreaming(true))...)
	if err != nil {
		return nil, err
	}
	return out.AsStream(), nil
}

func dagOf(op Operator) (*DAG, error) {
	if op.DAG() == nil {
		return nil, errors.New("operator '" + op.NodeName() + "' is not added to any dag")
	}
	return op.DAG(), nil
}
