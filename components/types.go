/*
Package components 定义 GPT-DB 中可插拔组件的种类与公共接口。
*/
package components

// Component 表示组件种类，用于回调中的 RunInfo 与 SystemApp 注册。
type Component string

const (
	// ComponentOfLLMClient 大模型客户端，负责 ModelRequest 到 ModelOutput 的调用
	ComponentOfLLMClient Component = "LLMClient"
	// ComponentOfEmbedding 向量化模型
	ComponentOfEmbedding Component = "Embedding"
	// ComponentOfRetriever 检索器
	ComponentOfRetriever Component = "Retriever"
	// ComponentOfPrompt 提示词模板
	ComponentOfPrompt Component = "Prompt"
	// ComponentOfKnowledgeLoader 知识加载器
	ComponentOfKnowledgeLoader Component = "KnowledgeLoader"
	// ComponentOfChunker 文本切分器
	ComponentOfChunker Component = "Chunker"
	// ComponentOfIndexStore 索引存储（向量库、知识图谱）
	ComponentOfIndexStore Component = "IndexStore"
	// ComponentOfOperator AWEL 算子
	ComponentOfOperator Component = "Operator"
)

// Typer 组件实现的类型名，例如 "OpenAI"、"Moonshot"。
// 回调中 RunInfo.Type 默认取自该方法。
type Typer interface {
	GetType() string
}

// GetType 返回组件的类型名，未实现 Typer 时返回空串。
func GetType(component any) (string, bool) {
	if typer, ok := component.(Typer); ok {
		return typer.GetType(), true
	}
	return "", false
}

// Checker 组件可声明自己已经处理了回调，外层不再重复注入。
type Checker interface {
	IsCallbacksEnabled() bool
}

// IsCallbacksEnabled 判断组件是否自行触发回调。
func IsCallbacksEnabled(i any) bool {
	if checker, ok := i.(Checker); ok {
		return checker.IsCallbacksEnabled()
	}
	return false
}
