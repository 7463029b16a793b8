// Package core 提供各 serve 应用共用的响应结构、鉴权、配置与通用服务。
package core

import "math"

// Result 接口统一响应。
type Result[T any] struct {
	Success bool    `json:"success"`
	ErrCode *string `json:"err_code"`
	ErrMsg  *string `json:"err_msg"`
	Data    T       `json:"data"`
}

// Succ 成功响应。
func Succ[T any](data T) *Result[T] {
	return &Result[T]{Success: true, Data: data}
}

// Failed 失败响应，data 为 null。
func Failed(code, msg string) *Result[any] {
	return &Result[any]{ErrCode: &code, ErrMsg: &msg}
}

const (
	DefaultPage     = 1
	DefaultPageSize = 20
)

// PaginationResult 分页结果。
type PaginationResult[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
}

// NewPaginationResult page 默认 1，pageSize 默认 20；total_pages 向上取整。
func NewPaginationResult[T any](items []T, total, page, pageSize int) *PaginationResult[T] {
	if page <= 0 {
		page = DefaultPage
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if items == nil {
		items = []T{}
	}
	return &PaginationResult[T]{
		Items:      items,
		TotalCount: total,
		TotalPages: int(math.Ceil(float64(total) / float64(pageSize))),
		Page:       page,
		PageSize:   pageSize,
	}
}
