// Package conversation 对话与消息管理，以及 chat_normal 场景的对话补全。
package conversation

import "github.com/favbox/gptdb/serve/core"

const (
	APPName                   = "conversation"
	ServeAppName              = "gptdb_serve_conversation"
	ServeServiceComponentName = ServeAppName + "_service"
	ServeConfigKeyPrefix      = "gptdb.serve.conversation."
	APIPrefix                 = "/api/v1/chat/dialogue"

	ConversationTableName = "chat_history"
	MessageTableName      = "chat_history_message"
)

// ChatModeNormal 普通对话场景
const ChatModeNormal = "chat_normal"

// DefaultKeepEndRounds 发送给模型的历史轮数
const DefaultKeepEndRounds = 10

// DefaultSystemPrompt chat_normal 的系统提示词。
const DefaultSystemPrompt = "A chat between a curious user and an artificial intelligence assistant, " +
	"who very familiar with database related knowledge. " +
	"The assistant gives helpful, detailed, professional and polite answers to the user's questions."

// ServeConfig 对话服务配置。
type ServeConfig struct {
	core.BaseServeConfig
	// DefaultModel 请求未指定 model_name 时使用
	DefaultModel  string `config:"default_model"`
	KeepEndRounds int    `config:"keep_end_rounds"`
	SystemPrompt  string `config:"system_prompt"`
}

func (c *ServeConfig) applyDefaults() {
	if c.KeepEndRounds <= 0 {
		c.KeepEndRounds = DefaultKeepEndRounds
	}
	if c.SystemPrompt == "" {
		c.SystemPrompt = DefaultSystemPrompt
	}
}
