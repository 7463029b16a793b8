// Package flow 描述可在流程编辑器中使用的算子，并把编辑器保存的流程数据
// 构建为 AWEL DAG。
//
// 算子通过 Registry.Register 登记 ViewMetadata 与工厂函数；BuildDAG 按
// FlowData 中的节点名称查找工厂，校验参数后实例化算子并按连线连接。
package flow
