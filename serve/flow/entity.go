package flow

import (
	"fmt"
	"regexp"
	"time"

	awelflow "github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/serve/core"
)

// State 流程状态。
type State string

const (
	StateInitializing State = "initializing"
	StateDeveloping   State = "developing"
	StateDeployed     State = "deployed"
	StateRunning      State = "running"
	StateDisabled     State = "disabled"
	StateLoadFailed   State = "load_failed"
)

// Runnable 已部署或运行中的流程可以被调用。
func (s State) Runnable() bool { return s == StateDeployed || s == StateRunning }

func parseState(s string) (State, error) {
	switch st := State(s); st {
	case StateInitializing, StateDeveloping, StateDeployed, StateRunning, StateDisabled, StateLoadFailed:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown flow state '%s'", core.ErrInvalidArgument, s)
}

// 流程来源
const (
	SourceUser   = "user"
	SourceGptdbs = "gptdbs"
)

// DefineTypeJSON 以 JSON 定义的流程
const DefineTypeJSON = "json"

// Entity 流程表记录。
type Entity struct {
	ID           int64              `db:"id,pk"`
	UID          string             `db:"uid,unique"`
	Name         string             `db:"name,unique"`
	Label        string             `db:"label"`
	Description  string             `db:"description"`
	Owner        string             `db:"owner"`
	FlowCategory string             `db:"flow_category"`
	FlowData     *awelflow.FlowData `db:"flow_data"`
	State        string             `db:"state"`
	ErrorMessage string             `db:"error_message"`
	Source       string             `db:"source"`
	SourceURL    string             `db:"source_url"`
	Version      string             `db:"version"`
	Editable     bool               `db:"editable"`
	DefineType   string             `db:"define_type"`
	UserName     string             `db:"user_name"`
	SysCode      string             `db:"sys_code"`
	GmtCreated   time.Time          `db:"gmt_created,created"`
	GmtModified  time.Time          `db:"gmt_modified,updated"`
}

// FlowPanel 流程的请求与响应结构。
type FlowPanel struct {
	UID          string             `json:"uid,omitempty"`
	Name         string             `json:"name"`
	Label        string             `json:"label"`
	Description  string             `json:"desc,omitempty"`
	Owner        string             `json:"owner,omitempty"`
	FlowCategory string             `json:"flow_category,omitempty"`
	FlowData     *awelflow.FlowData `json:"flow_data,omitempty"`
	State        string             `json:"state,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	Source       string             `json:"source,omitempty"`
	SourceURL    string             `json:"source_url,omitempty"`
	Version      string             `json:"version,omitempty"`
	Editable     *bool              `json:"editable,omitempty"`
	DefineType   string             `json:"define_type,omitempty"`
	UserName     string             `json:"user_name,omitempty"`
	SysCode      string             `json:"sys_code,omitempty"`
	GmtCreated   string             `json:"gmt_created,omitempty"`
	GmtModified  string             `json:"gmt_modified,omitempty"`

	// SaveFailedFlow 构建失败时仍以 load_failed 状态保存
	SaveFailedFlow bool `json:"save_failed_flow,omitempty"`
}

var namePattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

func validateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: flow name '%s' may only contain lowercase letters, digits, '-' and '_'",
			core.ErrInvalidArgument, name)
	}
	return nil
}

const timeLayout = "2006-01-02 15:04:05"

func toEntity(p *FlowPanel) *Entity {
	e := &Entity{
		UID:          p.UID,
		Name:         p.Name,
		Label:        p.Label,
		Description:  p.Description,
		Owner:        p.Owner,
		FlowCategory: p.FlowCategory,
		FlowData:     p.FlowData,
		State:        p.State,
		ErrorMessage: p.ErrorMessage,
		Source:       p.Source,
		SourceURL:    p.SourceURL,
		Version:      p.Version,
		Editable:     true,
		DefineType:   p.DefineType,
		UserName:     p.UserName,
		SysCode:      p.SysCode,
	}
	if p.Editable != nil {
		e.Editable = *p.Editable
	}
	if e.DefineType == "" {
		e.DefineType = DefineTypeJSON
	}
	if e.Source == "" {
		e.Source = SourceUser
	}
	return e
}

func toPanel(e *Entity) *FlowPanel {
	editable := e.Editable
	return &FlowPanel{
		UID:          e.UID,
		Name:         e.Name,
		Label:        e.Label,
		Description:  e.Description,
		Owner:        e.Owner,
		FlowCategory: e.FlowCategory,
		FlowData:     e.FlowData,
		State:        e.State,
		ErrorMessage: e.ErrorMessage,
		Source:       e.Source,
		SourceURL:    e.SourceURL,
		Version:      e.Version,
		Editable:     &editable,
		DefineType:   e.DefineType,
		UserName:     e.UserName,
		SysCode:      e.SysCode,
		GmtCreated:   e.GmtCreated.Format(timeLayout),
		GmtModified:  e.GmtModified.Format(timeLayout),
	}
}

// merge 以更新请求覆盖可编辑字段，uid 与 name 不变。
func merge(dst *Entity, p *FlowPanel) {
	if p.Label != "" {
		dst.Label = p.Label
	}
	if p.Description != "" {
		dst.Description = p.Description
	}
	if p.FlowCategory != "" {
		dst.FlowCategory = p.FlowCategory
	}
	if p.FlowData != nil {
		dst.FlowData = p.FlowData
	}
	if p.State != "" {
		dst.State = p.State
	}
	if p.Owner != "" {
		dst.Owner = p.Owner
	}
	if p.Version != "" {
		dst.Version = p.Version
	}
	if p.Editable != nil {
		dst.Editable = *p.Editable
	}
}
