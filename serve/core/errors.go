package core

import (
	"errors"
	"net/http"

	"github.com/favbox/gptdb/storage/metadata"
)

// 与 metadata 共用的哨兵错误，便于按类型映射 HTTP 状态码。
var (
	ErrNotFound        = metadata.ErrNotFound
	ErrAlreadyExists   = metadata.ErrAlreadyExists
	ErrInvalidArgument = metadata.ErrInvalidArgument
)

// 错误码
const (
	CodeInvalidArgument = "E0001"
	CodeNotFound        = "E0002"
	CodeInternal        = "E0003"
)

// StatusOf 校验类错误 400，不存在 404，其余 500。
func StatusOf(err error) (int, string) {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, ErrInvalidArgument), errors.Is(err, ErrAlreadyExists):
		return http.StatusBadRequest, CodeInvalidArgument
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
