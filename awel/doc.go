/*
 * awel 包 - Agentic Workflow Expression Language
 *
 * 概述：
 *   以有向无环图组织算子（Operator），一次运行从叶子节点出发，
 *   只执行叶子依赖的子图，每个节点执行一次，相互独立的节点并发执行。
 *
 * 算子类型：
 *   - map：对单个上游输出做变换，遇到流式输入时逐项变换
 *   - join：按上游声明顺序合并多个输出
 *   - branch：按条件选择下游，未选中的分支被跳过
 *   - input / trigger：从调用数据或输入源取值
 *   - streamify：值 → 流
 *   - unstreamify：流 → 值
 *   - transform_stream：流 → 流
 *
 * 跳过传播：
 *   节点的全部上游都被跳过时，该节点也被跳过并继续向下游传播；
 *   只要有一个上游就绪，节点就以就绪的上游输出运行。
 *
 * 使用示例：
 *
 *	dag := awel.NewDAG("hello")
 *	in := awel.NewInputOperator(awel.CallDataInputSource())
 *	upper := awel.NewMapOperator(func(_ context.Context, s string) (string, error) {
 *		return strings.ToUpper(s), nil
 *	})
 *	_ = dag.Chain(in, upper)
 *	out, err := awel.CallOperator(ctx, upper, "hi") // "HI"
 */
package awel
