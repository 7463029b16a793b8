package rag

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/favbox/gptdb/serve/core"
)

// maxUploadMemory 上传文件在内存中保留的上限，超出部分写入临时文件。
const maxUploadMemory = 32 << 20

type handlers struct {
	svc *Service
}

// ====== 知识空间 ======

func (h *handlers) createSpace(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[SpaceServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.CreateSpace(r.Context(), req)
}

func (h *handlers) updateSpace(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[SpaceServeRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.UpdateSpace(r.Context(), req)
}

func (h *handlers) spacePage(r *http.Request) (any, error) {
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	filter := &SpaceServeRequest{
		Name:       q.Get("name"),
		VectorType: q.Get("vector_type"),
		Owner:      q.Get("owner"),
		SysCode:    q.Get("sys_code"),
	}
	return h.svc.SpacePage(r.Context(), filter, page, size)
}

func (h *handlers) getSpace(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.GetSpace(r.Context(), id)
}

func (h *handlers) deleteSpace(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.DeleteSpace(r.Context(), id)
}

func (h *handlers) retrieve(r *http.Request) (any, error) {
	req, err := core.DecodeJSON[RetrieveRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.Retrieve(r.Context(), r.PathValue("id"), req)
}

// ====== 文档 ======

// createDocument 支持 multipart 表单（文件字段 doc_file）与 JSON 请求体。
func (h *handlers) createDocument(r *http.Request) (any, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		req, err := core.DecodeJSON[DocumentServeRequest](r)
		if err != nil {
			return nil, err
		}
		return h.svc.CreateDocument(r.Context(), req, nil, "")
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	req := &DocumentServeRequest{
		DocName:   r.FormValue("doc_name"),
		DocType:   r.FormValue("doc_type"),
		SpaceID:   r.FormValue("space_id"),
		Content:   r.FormValue("content"),
		DocSource: r.FormValue("doc_source"),
	}
	var (
		file     io.Reader
		filename string
	)
	f, header, err := r.FormFile("doc_file")
	switch {
	case err == nil:
		defer f.Close()
		file, filename = f, header.Filename
		if req.DocName == "" {
			req.DocName = header.Filename
		}
	case !errors.Is(err, http.ErrMissingFile):
		return nil, fmt.Errorf("%w: %v", core.ErrInvalidArgument, err)
	}
	return h.svc.CreateDocument(r.Context(), req, file, filename)
}

func (h *handlers) documentPage(r *http.Request) (any, error) {
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	q := r.URL.Query()
	return h.svc.DocumentPage(r.Context(), DocumentQuery{
		SpaceID: q.Get("space_id"),
		DocName: q.Get("doc_name"),
		DocType: q.Get("doc_type"),
		Status:  q.Get("status"),
	}, page, size)
}

func (h *handlers) getDocument(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.GetDocument(r.Context(), id)
}

func (h *handlers) deleteDocument(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	return h.svc.DeleteDocument(r.Context(), id)
}

func (h *handlers) documentChunks(r *http.Request) (any, error) {
	id, err := core.PathInt(r, "id")
	if err != nil {
		return nil, err
	}
	page, size, err := core.PageParams(r)
	if err != nil {
		return nil, err
	}
	return h.svc.DocumentChunks(r.Context(), id, page, size)
}

func (h *handlers) syncDocuments(r *http.Request) (any, error) {
	reqs, err := core.DecodeJSON[[]*KnowledgeSyncRequest](r)
	if err != nil {
		return nil, err
	}
	return h.svc.SyncDocuments(r.Context(), *reqs)
}

func (h *handlers) knowledgeConfig(*http.Request) (any, error) {
	return h.svc.KnowledgeConfig(), nil
}
