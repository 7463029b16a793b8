package prompt

import (
	"context"
	"fmt"

	tpl "github.com/favbox/gptdb/components/prompt"
	"github.com/favbox/gptdb/serve/core"
	"github.com/favbox/gptdb/storage/metadata"
)

// Service 提示词增删改查与渲染。
type Service struct {
	cfg  *ServeConfig
	crud *core.Service[Entity, ServeRequest, ServerResponse]
}

// NewService 创建服务。
func NewService(store metadata.Store[Entity], cfg *ServeConfig) *Service {
	if cfg == nil {
		cfg = &ServeConfig{}
	}
	return &Service{
		cfg: cfg,
		crud: &core.Service[Entity, ServeRequest, ServerResponse]{
			Store:      store,
			ToEntity:   toEntity,
			ToResponse: toResponse,
			Merge:      merge,
		},
	}
}

// Config 服务配置。
func (s *Service) Config() *ServeConfig { return s.cfg }

func (s *Service) withDefaults(req *ServeRequest) *ServeRequest {
	r := *req
	if r.UserName == "" {
		r.UserName = s.cfg.DefaultUser
	}
	if r.SysCode == "" {
		r.SysCode = s.cfg.DefaultSysCode
	}
	return &r
}

// Create 新建提示词，未指定的 user_name、sys_code 取配置默认值。
func (s *Service) Create(ctx context.Context, req *ServeRequest) (*ServerResponse, error) {
	if req == nil || req.PromptName == "" {
		return nil, fmt.Errorf("%w: prompt_name is required", core.ErrInvalidArgument)
	}
	return s.crud.Create(ctx, s.withDefaults(req))
}

// Update 按 prompt_name 与 sys_code 更新。
func (s *Service) Update(ctx context.Context, req *ServeRequest) (*ServerResponse, error) {
	if req == nil || req.PromptName == "" {
		return nil, fmt.Errorf("%w: prompt_name is required", core.ErrInvalidArgument)
	}
	r := s.withDefaults(req)
	return s.crud.Update(ctx, metadata.Query{"prompt_name": r.PromptName, "sys_code": r.SysCode}, r)
}

// Get 以请求中的非空字段查找一条提示词。
func (s *Service) Get(ctx context.Context, req *ServeRequest) (*ServerResponse, error) {
	q, err := s.crud.QueryOf(req)
	if err != nil {
		return nil, err
	}
	return s.crud.Get(ctx, q)
}

// GetByID 按主键查找。
func (s *Service) GetByID(ctx context.Context, id int64) (*ServerResponse, error) {
	return s.crud.Get(ctx, metadata.Query{"id": id})
}

// Delete 删除匹配的提示词。
func (s *Service) Delete(ctx context.Context, req *ServeRequest) (*ServerResponse, error) {
	q, err := s.crud.QueryOf(req)
	if err != nil {
		return nil, err
	}
	return s.crud.Delete(ctx, q)
}

// DeleteByID 按主键删除。
func (s *Service) DeleteByID(ctx context.Context, id int64) (*ServerResponse, error) {
	return s.crud.Delete(ctx, metadata.Query{"id": id})
}

// GetList 列出匹配的提示词。
func (s *Service) GetList(ctx context.Context, req *ServeRequest) ([]*ServerResponse, error) {
	q, err := s.crud.QueryOf(req)
	if err != nil {
		return nil, err
	}
	return s.crud.List(ctx, q)
}

// GetListByPage 分页列出匹配的提示词。
func (s *Service) GetListByPage(ctx context.Context, req *ServeRequest, page, pageSize int) (*core.PaginationResult[*ServerResponse], error) {
	q, err := s.crud.QueryOf(req)
	if err != nil {
		return nil, err
	}
	return s.crud.Page(ctx, q, page, pageSize)
}

// RenderRequest 渲染请求。
type RenderRequest struct {
	PromptName string `json:"prompt_name"`
	SysCode    string `json:"sys_code,omitempty"`
	// TemplateFormat f-string（默认）、jinja2 或 go-template
	TemplateFormat string         `json:"template_format,omitempty"`
	Variables      map[string]any `json:"variables,omitempty"`
}

// Render 取出提示词并以 variables 渲染其内容。
func (s *Service) Render(ctx context.Context, req *RenderRequest) (string, error) {
	if req == nil || req.PromptName == "" {
		return "", fmt.Errorf("%w: prompt_name is required", core.ErrInvalidArgument)
	}
	ft, err := tpl.ParseFormatType(req.TemplateFormat)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	sysCode := req.SysCode
	if sysCode == "" {
		sysCode = s.cfg.DefaultSysCode
	}
	p, err := s.crud.Get(ctx, metadata.Query{"prompt_name": req.PromptName, "sys_code": sysCode})
	if err != nil {
		return "", err
	}
	out, err := tpl.Render(p.Content, req.Variables, ft)
	if err != nil {
		return "", fmt.Errorf("%w: render prompt '%s': %v", core.ErrInvalidArgument, req.PromptName, err)
	}
	return out, nil
}
