package schema

import (
	"fmt"
	"strings"
)

// ModelMessageRole 对话消息的角色。
type ModelMessageRole string

const (
	System ModelMessageRole = "system" // 系统提示
	Human  ModelMessageRole = "human"  // 用户输入
	AI     ModelMessageRole = "ai"     // 模型回复
	View   ModelMessageRole = "view"   // 仅用于界面展示，不发送给模型
)

// ModelMessage 发送给模型的一条消息。
type ModelMessage struct {
	Role       ModelMessageRole `json:"role"`
	Content    string           `json:"content"`
	RoundIndex int              `json:"round_index,omitempty"`
}

// SystemMessage 创建系统消息。
func SystemMessage(content string) *ModelMessage {
	return &ModelMessage{Role: System, Content: content}
}

// HumanMessage 创建用户消息。
func HumanMessage(content string) *ModelMessage {
	return &ModelMessage{Role: Human, Content: content}
}

// AIMessage 创建模型回复消息。
func AIMessage(content string) *ModelMessage {
	return &ModelMessage{Role: AI, Content: content}
}

// OpenAIRole 返回 OpenAI 兼容协议中的角色名。
func (m *ModelMessage) OpenAIRole() string {
	switch m.Role {
	case System:
		return "system"
	case AI:
		return "assistant"
	default:
		return "user"
	}
}

// String 便于日志输出。
func (m *ModelMessage) String() string {
	return fmt.Sprintf("%s: %s", m.Role, m.Content)
}

// ParseRole 解析角色名，兼容 OpenAI 协议中的 user/assistant。
func ParseRole(s string) (ModelMessageRole, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "system":
		return System, nil
	case "human", "user":
		return Human, nil
	case "ai", "assistant":
		return AI, nil
	case "view":
		return View, nil
	default:
		return "", fmt.Errorf("unknown message role: %q", s)
	}
}

// FilterView 过滤掉仅用于展示的 view 消息。
func FilterView(msgs []*ModelMessage) []*ModelMessage {
	out := make([]*ModelMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil || m.Role == View {
			continue
		}
		out = append(out, m)
	}
	return out
}

// LastRounds 保留最后 n 轮对话（按 RoundIndex 划分），系统消息始终保留。
// n <= 0 表示不裁剪。
func LastRounds(msgs []*ModelMessage, n int) []*ModelMessage {
	if n <= 0 {
		return msgs
	}

	rounds := make([]int, 0)
	seen := make(map[int]bool)
	for _, m := range msgs {
		if m.Role == System || seen[m.RoundIndex] {
			continue
		}
		seen[m.RoundIndex] = true
		rounds = append(rounds, m.RoundIndex)
	}
	if len(rounds) <= n {
		return msgs
	}

	keep := make(map[int]bool, n)
	for _, r := range rounds[len(rounds)-n:] {
		keep[r] = true
	}
	out := make([]*ModelMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == System || keep[m.RoundIndex] {
			out = append(out, m)
		}
	}
	return out
}
