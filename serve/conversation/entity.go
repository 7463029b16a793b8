package conversation

import (
	"time"

	"github.com/favbox/gptdb/schema"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// ConversationEntity 对话表记录。
type ConversationEntity struct {
	ID           int64     `db:"id,pk"`
	ConvUID      string    `db:"conv_uid,unique"`
	ChatMode     string    `db:"chat_mode"`
	UserName     string    `db:"user_name"`
	SysCode      string    `db:"sys_code"`
	Summary      string    `db:"summary"`
	ModelName    string    `db:"model_name"`
	MessageCount int       `db:"message_count"`
	GmtCreated   time.Time `db:"gmt_created,created"`
	GmtModified  time.Time `db:"gmt_modified,updated"`
}

// MessageEntity 消息表记录，同一轮的用户输入与模型回复共用 round_index。
type MessageEntity struct {
	ID         int64     `db:"id,pk"`
	ConvUID    string    `db:"conv_uid"`
	RoundIndex int       `db:"round_index"`
	Role       string    `db:"role"`
	Content    string    `db:"content"`
	ModelName  string    `db:"model_name"`
	GmtCreated time.Time `db:"gmt_created,created"`
}

// ServeRequest 新建或查询对话。
type ServeRequest struct {
	ConvUID  string `json:"conv_uid,omitempty"`
	ChatMode string `json:"chat_mode,omitempty"`
	UserName string `json:"user_name,omitempty"`
	SysCode  string `json:"sys_code,omitempty"`
}

// ConversationVO 对话响应。
type ConversationVO struct {
	ConvUID      string `json:"conv_uid"`
	ChatMode     string `json:"chat_mode"`
	UserName     string `json:"user_name"`
	SysCode      string `json:"sys_code"`
	Summary      string `json:"summary"`
	ModelName    string `json:"model_name"`
	MessageCount int    `json:"message_count"`
	GmtCreated   string `json:"gmt_created"`
	GmtModified  string `json:"gmt_modified"`
}

func toVO(e *ConversationEntity) *ConversationVO {
	return &ConversationVO{
		ConvUID:      e.ConvUID,
		ChatMode:     e.ChatMode,
		UserName:     e.UserName,
		SysCode:      e.SysCode,
		Summary:      e.Summary,
		ModelName:    e.ModelName,
		MessageCount: e.MessageCount,
		GmtCreated:   formatTime(e.GmtCreated),
		GmtModified:  formatTime(e.GmtModified),
	}
}

// MessageVO 消息响应，context 为消息内容，order 为轮次。
type MessageVO struct {
	Role      string `json:"role"`
	Context   string `json:"context"`
	Order     int    `json:"order"`
	TimeStamp string `json:"time_stamp"`
	ModelName string `json:"model_name,omitempty"`
}

func toMessageVO(e *MessageEntity) *MessageVO {
	return &MessageVO{
		Role:      e.Role,
		Context:   e.Content,
		Order:     e.RoundIndex,
		TimeStamp: formatTime(e.GmtCreated),
		ModelName: e.ModelName,
	}
}

func toModelMessage(e *MessageEntity) *schema.ModelMessage {
	return &schema.ModelMessage{Role: schema.ModelMessageRole(e.Role), Content: e.Content, RoundIndex: e.RoundIndex}
}

// CompletionRequest 对话补全请求。conv_uid 为空时新建对话。
type CompletionRequest struct {
	ConvUID      string   `json:"conv_uid,omitempty"`
	UserInput    string   `json:"user_input"`
	ChatMode     string   `json:"chat_mode,omitempty"`
	ModelName    string   `json:"model_name,omitempty"`
	UserName     string   `json:"user_name,omitempty"`
	SysCode      string   `json:"sys_code,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxNewTokens int      `json:"max_new_tokens,omitempty"`
	Stream       bool     `json:"stream,omitempty"`
	// Incremental 流式输出时每块只包含新增文本
	Incremental bool `json:"incremental,omitempty"`
}

// CompletionResponse 非流式补全响应。
type CompletionResponse struct {
	ConvUID string        `json:"conv_uid"`
	Text    string        `json:"text"`
	Model   string        `json:"model"`
	Usage   *schema.Usage `json:"usage,omitempty"`
}
