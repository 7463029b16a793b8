// Package metadata 提供按 db 标签映射的通用实体存储。
//
// 实体是带 db 标签的结构体：
//
//	type Space struct {
//		ID         int64          `db:"id,pk"`
//		Name       string         `db:"name,unique"`
//		Context    map[string]any `db:"context"`
//		GmtCreated time.Time      `db:"gmt_created,created"`
//	}
//
// 标签选项：pk 主键（整数主键由存储分配），unique 或 unique=组名 唯一约束，
// created/updated 由存储写入当前时间。map、切片与结构体字段按 JSON 存储。
package metadata

import (
	"context"
	"errors"
)

var (
	// ErrNotFound 记录不存在。
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists 违反唯一约束。
	ErrAlreadyExists = errors.New("record already exists")
	// ErrInvalidArgument 查询或实体不合法。
	ErrInvalidArgument = errors.New("invalid argument")
)

// Query 列名到值的等值条件，多个条件取交集。
type Query map[string]any

// Page 分页查询结果。
type Page[E any] struct {
	Items    []*E
	Total    int
	Page     int
	PageSize int
}

// Store 实体存储，所有方法并发安全。
type Store[E any] interface {
	// Create 写入新实体，整数主键为零时回填分配的主键
	Create(ctx context.Context, e *E) error
	// Update 按主键覆盖更新，不修改 created 列
	Update(ctx context.Context, e *E) error
	// Get 返回第一条匹配记录，没有时返回 ErrNotFound
	Get(ctx context.Context, q Query) (*E, error)
	// List 按主键升序返回全部匹配记录
	List(ctx context.Context, q Query) ([]*E, error)
	// Page page 从 1 开始
	Page(ctx context.Context, q Query, page, pageSize int) (*Page[E], error)
	Count(ctx context.Context, q Query) (int, error)
	// Delete 删除匹配记录并返回删除数量，q 不能为空
	Delete(ctx context.Context, q Query) (int, error)
}

func normalizePage(page, pageSize int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize
}
