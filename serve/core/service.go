package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/favbox/gptdb/storage/metadata"
)

// Service 基于 metadata.Store 的通用增删改查服务，E 为实体，Req/Resp 为接口请求与响应。
type Service[E, Req, Resp any] struct {
	Store metadata.Store[E]
	// ToEntity 请求转实体
	ToEntity func(req *Req) *E
	// ToResponse 实体转响应
	ToResponse func(e *E) *Resp
	// Merge 将更新请求合并到已有实体
	Merge func(dst *E, req *Req)
}

// QueryOf 以请求中的非零字段作为查询条件。
func (s *Service[E, Req, Resp]) QueryOf(req *Req) (metadata.Query, error) {
	if req == nil {
		return metadata.Query{}, nil
	}
	return metadata.Where(s.ToEntity(req))
}

// Create 新建实体。
func (s *Service[E, Req, Resp]) Create(ctx context.Context, req *Req) (*Resp, error) {
	e := s.ToEntity(req)
	if err := s.Store.Create(ctx, e); err != nil {
		return nil, err
	}
	return s.ToResponse(e), nil
}

// Update 按查询条件找到实体并合并更新。
func (s *Service[E, Req, Resp]) Update(ctx context.Context, q metadata.Query, req *Req) (*Resp, error) {
	if s.Merge == nil {
		return nil, errors.New("update is not supported")
	}
	if len(q) == 0 {
		return nil, fmt.Errorf("%w: update query is empty", ErrInvalidArgument)
	}
	e, err := s.Store.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	s.Merge(e, req)
	if err = s.Store.Update(ctx, e); err != nil {
		return nil, err
	}
	return s.ToResponse(e), nil
}

// Get 返回第一条匹配记录。
func (s *Service[E, Req, Resp]) Get(ctx context.Context, q metadata.Query) (*Resp, error) {
	e, err := s.Store.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.ToResponse(e), nil
}

// Delete 删除匹配记录，返回被删除的第一条。
func (s *Service[E, Req, Resp]) Delete(ctx context.Context, q metadata.Query) (*Resp, error) {
	if len(q) == 0 {
		return nil, fmt.Errorf("%w: delete query is empty", ErrInvalidArgument)
	}
	e, err := s.Store.Get(ctx, q)
	if err != nil {
		return nil, err
	}
	if _, err = s.Store.Delete(ctx, q); err != nil {
		return nil, err
	}
	return s.ToResponse(e), nil
}

// List 返回全部匹配记录。
func (s *Service[E, Req, Resp]) List(ctx context.Context, q metadata.Query) ([]*Resp, error) {
	rows, err := s.Store.List(ctx, q)
	if err != nil {
		return nil, err
	}
	return s.convert(rows), nil
}

// Page 分页查询。
func (s *Service[E, Req, Resp]) Page(ctx context.Context, q metadata.Query, page, pageSize int) (*PaginationResult[*Resp], error) {
	p, err := s.Store.Page(ctx, q, page, pageSize)
	if err != nil {
		return nil, err
	}
	return NewPaginationResult(s.convert(p.Items), p.Total, p.Page, p.PageSize), nil
}

func (s *Service[E, Req, Resp]) convert(rows []*E) []*Resp {
	out := make([]*Resp, 0, len(rows))
	for _, e := range rows {
		out = append(out, s.ToResponse(e))
	}
	return out
}
