package llm

import (
	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/schema"
)

// CallbackInput 模型调用回调的输入。
type CallbackInput struct {
	Request *schema.ModelRequest
	Extra   map[string]any
}

// CallbackOutput 模型调用回调的输出。
type CallbackOutput struct {
	Output *schema.ModelOutput
	Extra  map[string]any
}

// ConvCallbackInput 将通用回调输入转换为模型回调输入。
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case *schema.ModelRequest:
		return &CallbackInput{Request: t}
	default:
		return nil
	}
}

// ConvCallbackOutput 将通用回调输出转换为模型回调输出。
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case *schema.ModelOutput:
		return &CallbackOutput{Output: t}
	default:
		return nil
	}
}
