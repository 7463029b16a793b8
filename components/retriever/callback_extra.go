package retriever

import (
	"github.com/favbox/gptdb/callbacks"
	"github.com/favbox/gptdb/schema"
)

// CallbackInput 检索回调的输入。
type CallbackInput struct {
	Query          string
	TopK           int
	ScoreThreshold *float64
	Filters        map[string]any
	Extra          map[string]any
}

// CallbackOutput 检索回调的输出。
type CallbackOutput struct {
	Chunks []*schema.Chunk
	Extra  map[string]any
}

// ConvCallbackInput 将通用回调输入转换为检索回调输入。
func ConvCallbackInput(src callbacks.CallbackInput) *CallbackInput {
	switch t := src.(type) {
	case *CallbackInput:
		return t
	case string:
		return &CallbackInput{Query: t}
	default:
		return nil
	}
}

// ConvCallbackOutput 将通用回调输出转换为检索回调输出。
func ConvCallbackOutput(src callbacks.CallbackOutput) *CallbackOutput {
	switch t := src.(type) {
	case *CallbackOutput:
		return t
	case []*schema.Chunk:
		return &CallbackOutput{Chunks: t}
	default:
		return nil
	}
}
