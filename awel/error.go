package awel

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// ====== 基础错误定义 ======

var (
	// ErrDAGSealed DAG 已经运行过，不能再修改结构
	ErrDAGSealed = errors.New("dag has been sealed, cannot modify")
	// ErrCycle DAG 中存在环
	ErrCycle = errors.New("dag contains a cycle")
	// ErrNodeNotFound 节点不存在
	ErrNodeNotFound = errors.New("node not found")
	// ErrStreamInput 算子不接受流式输入
	ErrStreamInput = errors.New("operator does not accept stream input")
)

// newUnexpectedInputTypeErr 输入类型与算子声明不符。
func newUnexpectedInputTypeErr(expected reflect.Type, got any) error {
	return fmt.Errorf("unexpected input type. expected: %v, got: %T", expected, got)
}

// ====== 节点错误 ======

// NodeError 节点运行错误，携带从外层 DAG 到出错节点的路径。
type NodeError struct {
	// Path 节点路径，嵌套 DAG 时由外向内
	Path []string
	// Err 原始错误
	Err error
}

// wrapNodeError 包装节点错误，嵌套时将当前节点加到路径前面。
func wrapNodeError(nodeID string, err error) error {
	var ne *NodeError
	if !errors.As(err, &ne) {
		return &NodeError{Path: []string{nodeID}, Err: err}
	}
	ne.Path = append([]string{nodeID}, ne.Path...)
	return ne
}

// Error 生成带路径的错误描述。
func (e *NodeError) Error() string {
	sb := strings.Builder{}
	sb.WriteString("[NodeRunError] ")
	sb.WriteString(e.Err.Error())
	if len(e.Path) > 0 {
		sb.WriteString("\n------------------------\n")
		sb.WriteString("node path: [")
		sb.WriteString(strings.Join(e.Path, ", "))
		sb.WriteString("]")
	}
	return sb.String()
}

// Unwrap 返回原始错误。
func (e *NodeError) Unwrap() error {
	return e.Err
}

// NodeID 返回出错的最内层节点。
func (e *NodeError) NodeID() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[len(e.Path)-1]
}
