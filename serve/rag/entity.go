package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/favbox/gptdb/rag/chunk"
	"github.com/favbox/gptdb/serve/core"
)

// 存储类型
const (
	VectorTypeVectorStore    = "VectorStore"
	VectorTypeKnowledgeGraph = "KnowledgeGraph"
)

// DomainTypeNormal 默认领域类型
const DomainTypeNormal = "Normal"

// 文档类型
const (
	DocTypeText     = "TEXT"
	DocTypeDocument = "DOCUMENT"
	DocTypeURL      = "URL"
)

// SyncStatus 文档同步状态。
type SyncStatus string

const (
	StatusTodo     SyncStatus = "TODO"
	StatusRunning  SyncStatus = "RUNNING"
	StatusFinished SyncStatus = "FINISHED"
	StatusFailed   SyncStatus = "FAILED"
)

const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeLayout)
}

// ====== 知识空间 ======

// SpaceEntity 知识空间表记录。
type SpaceEntity struct {
	ID          int64     `db:"id,pk"`
	Name        string    `db:"name,unique"`
	VectorType  string    `db:"vector_type"`
	DomainType  string    `db:"domain_type"`
	Desc        string    `db:"description"`
	Owner       string    `db:"owner"`
	SysCode     string    `db:"sys_code"`
	Context     string    `db:"context"`
	GmtCreated  time.Time `db:"gmt_created,created"`
	GmtModified time.Time `db:"gmt_modified,updated"`
}

// SpaceServeRequest 知识空间请求。
type SpaceServeRequest struct {
	ID         int64  `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	VectorType string `json:"vector_type,omitempty"`
	DomainType string `json:"domain_type,omitempty"`
	Desc       string `json:"desc,omitempty"`
	Owner      string `json:"owner,omitempty"`
	SysCode    string `json:"sys_code,omitempty"`
	Context    string `json:"context,omitempty"`
}

// SpaceServeResponse 知识空间响应。
type SpaceServeResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	VectorType  string `json:"vector_type"`
	DomainType  string `json:"domain_type"`
	Desc        string `json:"desc"`
	Owner       string `json:"owner"`
	SysCode     string `json:"sys_code"`
	Context     string `json:"context"`
	GmtCreated  string `json:"gmt_created"`
	GmtModified string `json:"gmt_modified"`
}

func normalizeVectorType(s string) (string, error) {
	switch strings.ToLower(s) {
	case "", "vectorstore", "vector_store":
		return VectorTypeVectorStore, nil
	case "knowledgegraph", "knowledge_graph":
		return VectorTypeKnowledgeGraph, nil
	}
	return "", fmt.Errorf("%w: unsupported vector type '%s'", core.ErrInvalidArgument, s)
}

func spaceToEntity(r *SpaceServeRequest) *SpaceEntity {
	return &SpaceEntity{
		ID:         r.ID,
		Name:       r.Name,
		VectorType: r.VectorType,
		DomainType: r.DomainType,
		Desc:       r.Desc,
		Owner:      r.Owner,
		SysCode:    r.SysCode,
		Context:    r.Context,
	}
}

func spaceToResponse(e *SpaceEntity) *SpaceServeResponse {
	return &SpaceServeResponse{
		ID:          e.ID,
		Name:        e.Name,
		VectorType:  e.VectorType,
		DomainType:  e.DomainType,
		Desc:        e.Desc,
		Owner:       e.Owner,
		SysCode:     e.SysCode,
		Context:     e.Context,
		GmtCreated:  formatTime(e.GmtCreated),
		GmtModified: formatTime(e.GmtModified),
	}
}

// mergeSpace 名称与存储类型创建后不可修改。
func mergeSpace(dst *SpaceEntity, r *SpaceServeRequest) {
	if r.Desc != "" {
		dst.Desc = r.Desc
	}
	if r.Owner != "" {
		dst.Owner = r.Owner
	}
	if r.DomainType != "" {
		dst.DomainType = r.DomainType
	}
	if r.Context != "" {
		dst.Context = r.Context
	}
	if r.SysCode != "" {
		dst.SysCode = r.SysCode
	}
}

// ====== 文档 ======

// DocumentEntity 文档表记录，同一空间内 doc_name 唯一。
type DocumentEntity struct {
	ID          int64     `db:"id,pk"`
	DocName     string    `db:"doc_name,unique=space_doc"`
	DocType     string    `db:"doc_type"`
	Space       string    `db:"space,unique=space_doc"`
	ChunkSize   int       `db:"chunk_size"`
	Status      string    `db:"status"`
	LastSync    time.Time `db:"last_sync"`
	Content     string    `db:"content"`
	Result      string    `db:"result"`
	VectorIDs   string    `db:"vector_ids"`
	Summary     string    `db:"summary"`
	DocSource   string    `db:"doc_source"`
	GmtCreated  time.Time `db:"gmt_created,created"`
	GmtModified time.Time `db:"gmt_modified,updated"`
}

// DocumentServeRequest 新建文档请求，DOCUMENT 类型的文件内容单独传入。
type DocumentServeRequest struct {
	DocName   string `json:"doc_name"`
	DocType   string `json:"doc_type"`
	SpaceID   string `json:"space_id"`
	Content   string `json:"content,omitempty"`
	DocSource string `json:"doc_source,omitempty"`
}

// DocumentVO 文档响应。
type DocumentVO struct {
	ID          int64  `json:"id"`
	DocName     string `json:"doc_name"`
	DocType     string `json:"doc_type"`
	Space       string `json:"space"`
	ChunkSize   int    `json:"chunk_size"`
	Status      string `json:"status"`
	LastSync    string `json:"last_sync"`
	Content     string `json:"content"`
	Result      string `json:"result,omitempty"`
	VectorIDs   string `json:"vector_ids,omitempty"`
	Summary     string `json:"summary,omitempty"`
	DocSource   string `json:"doc_source,omitempty"`
	GmtCreated  string `json:"gmt_created"`
	GmtModified string `json:"gmt_modified"`
}

func documentToVO(e *DocumentEntity) *DocumentVO {
	return &DocumentVO{
		ID:          e.ID,
		DocName:     e.DocName,
		DocType:     e.DocType,
		Space:       e.Space,
		ChunkSize:   e.ChunkSize,
		Status:      e.Status,
		LastSync:    formatTime(e.LastSync),
		Content:     e.Content,
		Result:      e.Result,
		VectorIDs:   e.VectorIDs,
		Summary:     e.Summary,
		DocSource:   e.DocSource,
		GmtCreated:  formatTime(e.GmtCreated),
		GmtModified: formatTime(e.GmtModified),
	}
}

// vectorIDs 解析逗号分隔的向量 ID。
func (e *DocumentEntity) vectorIDs() []string {
	if e.VectorIDs == "" {
		return nil
	}
	return strings.Split(e.VectorIDs, ",")
}

// ====== 片段 ======

// ChunkEntity 文档片段表记录。
type ChunkEntity struct {
	ID          int64     `db:"id,pk"`
	DocumentID  int64     `db:"document_id"`
	DocName     string    `db:"doc_name"`
	DocType     string    `db:"doc_type"`
	Content     string    `db:"content"`
	MetaInfo    string    `db:"meta_info"`
	VectorID    string    `db:"vector_id"`
	GmtCreated  time.Time `db:"gmt_created,created"`
	GmtModified time.Time `db:"gmt_modified,updated"`
}

// DocumentChunkVO 片段响应。
type DocumentChunkVO struct {
	ID          int64  `json:"id"`
	DocumentID  int64  `json:"document_id"`
	DocName     string `json:"doc_name"`
	DocType     string `json:"doc_type"`
	Content     string `json:"content"`
	MetaInfo    string `json:"meta_info"`
	GmtCreated  string `json:"gmt_created"`
	GmtModified string `json:"gmt_modified"`
}

func chunkToVO(e *ChunkEntity) *DocumentChunkVO {
	return &DocumentChunkVO{
		ID:          e.ID,
		DocumentID:  e.DocumentID,
		DocName:     e.DocName,
		DocType:     e.DocType,
		Content:     e.Content,
		MetaInfo:    e.MetaInfo,
		GmtCreated:  formatTime(e.GmtCreated),
		GmtModified: formatTime(e.GmtModified),
	}
}

// ====== 同步与配置 ======

// KnowledgeSyncRequest 文档同步请求。
type KnowledgeSyncRequest struct {
	DocID           int64             `json:"doc_id"`
	SpaceID         string            `json:"space_id"`
	ModelName       string            `json:"model_name,omitempty"`
	ChunkParameters *chunk.Parameters `json:"chunk_parameters,omitempty"`
}

// KnowledgeDomainType 领域类型。
type KnowledgeDomainType struct {
	Name string `json:"name"`
	Desc string `json:"desc"`
}

// KnowledgeStorageType 存储类型及其支持的领域类型。
type KnowledgeStorageType struct {
	Name        string                `json:"name"`
	Desc        string                `json:"desc"`
	DomainTypes []KnowledgeDomainType `json:"domain_types"`
}

// KnowledgeConfigResponse GET /knowledge/config 响应。
type KnowledgeConfigResponse struct {
	Storage []KnowledgeStorageType `json:"storage"`
}

// RetrieveRequest 在知识空间中检索。
type RetrieveRequest struct {
	Query          string  `json:"query"`
	TopK           int     `json:"top_k,omitempty"`
	ScoreThreshold float64 `json:"score_threshold,omitempty"`
}
