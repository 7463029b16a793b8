// Package flow AWEL 流程管理服务：保存、校验、部署与运行流程。
package flow

import "github.com/favbox/gptdb/serve/core"

const (
	APPName                   = "flow"
	ServeAppName              = "gptdb_serve_flow"
	ServeServiceComponentName = ServeAppName + "_service"
	ServeConfigKeyPrefix      = "gptdb.serve.flow."
	TableName                 = "gptdb_serve_flow"
	APIPrefix                 = "/api/v2/serve/awel"
)

// DefaultLoadInterval 安装包扫描间隔，单位秒
const DefaultLoadInterval = 5

// ServeConfig 流程服务配置。
type ServeConfig struct {
	core.BaseServeConfig
	// LoadGptdbsInterval 扫描已安装 gptdbs 流程包的间隔（秒）
	LoadGptdbsInterval int `config:"load_gptdbs_interval"`
}
