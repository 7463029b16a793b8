package prompt

import "time"

// Entity 提示词表记录，prompt_name 与 sys_code 联合唯一。
type Entity struct {
	ID             int64     `db:"id,pk"`
	ChatScene      string    `db:"chat_scene"`
	SubChatScene   string    `db:"sub_chat_scene"`
	PromptType     string    `db:"prompt_type"`
	PromptName     string    `db:"prompt_name,unique=prompt_name_sys_code"`
	Content        string    `db:"content"`
	PromptLanguage string    `db:"prompt_language"`
	Model          string    `db:"model"`
	UserName       string    `db:"user_name"`
	SysCode        string    `db:"sys_code,unique=prompt_name_sys_code"`
	GmtCreated     time.Time `db:"gmt_created,created"`
	GmtModified    time.Time `db:"gmt_modified,updated"`
}

// ServeRequest 提示词请求，查询时非空字段作为条件。
type ServeRequest struct {
	ChatScene      string `json:"chat_scene,omitempty"`
	SubChatScene   string `json:"sub_chat_scene,omitempty"`
	PromptType     string `json:"prompt_type,omitempty"`
	PromptName     string `json:"prompt_name,omitempty"`
	Content        string `json:"content,omitempty"`
	PromptLanguage string `json:"prompt_language,omitempty"`
	Model          string `json:"model,omitempty"`
	UserName       string `json:"user_name,omitempty"`
	SysCode        string `json:"sys_code,omitempty"`
}

// ServerResponse 提示词响应。
type ServerResponse struct {
	ID int64 `json:"id"`
	ServeRequest
	GmtCreated  string `json:"gmt_created"`
	GmtModified string `json:"gmt_modified"`
}

const timeLayout = "2006-01-02 15:04:05"

func toEntity(r *ServeRequest) *Entity {
	return &Entity{
		ChatScene:      r.ChatScene,
		SubChatScene:   r.SubChatScene,
		PromptType:     r.PromptType,
		PromptName:     r.PromptName,
		Content:        r.Content,
		PromptLanguage: r.PromptLanguage,
		Model:          r.Model,
		UserName:       r.UserName,
		SysCode:        r.SysCode,
	}
}

func toResponse(e *Entity) *ServerResponse {
	return &ServerResponse{
		ID: e.ID,
		ServeRequest: ServeRequest{
			ChatScene:      e.ChatScene,
			SubChatScene:   e.SubChatScene,
			PromptType:     e.PromptType,
			PromptName:     e.PromptName,
			Content:        e.Content,
			PromptLanguage: e.PromptLanguage,
			Model:          e.Model,
			UserName:       e.UserName,
			SysCode:        e.SysCode,
		},
		GmtCreated:  e.GmtCreated.Format(timeLayout),
		GmtModified: e.GmtModified.Format(timeLayout),
	}
}

// merge 以请求中的非空字段覆盖实体，prompt_name 与 sys_code 不变。
func merge(dst *Entity, r *ServeRequest) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&dst.ChatScene, r.ChatScene)
	set(&dst.SubChatScene, r.SubChatScene)
	set(&dst.PromptType, r.PromptType)
	set(&dst.Content, r.Content)
	set(&dst.PromptLanguage, r.PromptLanguage)
	set(&dst.Model, r.Model)
	set(&dst.UserName, r.UserName)
}
