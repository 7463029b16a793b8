// Package prompt 提示词管理服务。
package prompt

import "github.com/favbox/gptdb/serve/core"

const (
	APPName                   = "prompt"
	ServeAppName              = "gptdb_serve_prompt"
	ServeServiceComponentName = "gptdb_serve_prompt_service"
	ServeConfigKeyPrefix      = "gptdb.serve.prompt."
	TableName                 = "gptdb_serve_prompt"
	APIPrefix                 = "/api/v2/serve/prompt"
)

// ServeConfig 提示词服务配置。
type ServeConfig struct {
	core.BaseServeConfig
	// DefaultUser 创建时未指定 user_name 的默认值
	DefaultUser string `config:"default_user"`
	// DefaultSysCode 创建时未指定 sys_code 的默认值
	DefaultSysCode string `config:"default_sys_code"`
}
