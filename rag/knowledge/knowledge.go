// Package knowledge 将文件、URL 与文本加载为文档。
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/favbox/gptdb/schema"
)

// KnowledgeType 知识来源。
type KnowledgeType string

const (
	TypeDocument KnowledgeType = "DOCUMENT"
	TypeURL      KnowledgeType = "URL"
	TypeText     KnowledgeType = "TEXT"
)

// ParseKnowledgeType 大小写不敏感。
func ParseKnowledgeType(s string) (KnowledgeType, error) {
	switch KnowledgeType(strings.ToUpper(strings.TrimSpace(s))) {
	case TypeDocument:
		return TypeDocument, nil
	case TypeURL:
		return TypeURL, nil
	case TypeText:
		return TypeText, nil
	}
	return "", fmt.Errorf("unknown knowledge type: %q", s)
}

// DocumentType 文档格式。
type DocumentType string

const (
	DocumentTXT      DocumentType = "txt"
	DocumentMarkdown DocumentType = "md"
	DocumentHTML     DocumentType = "html"
	DocumentCSV      DocumentType = "csv"
	DocumentJSON     DocumentType = "json"
)

// ErrUnsupportedDocument 无法识别的文档格式。
var ErrUnsupportedDocument = errors.New("unsupported document type")

// DocumentTypeFromPath 按扩展名判断文档格式。
func DocumentTypeFromPath(path string) (DocumentType, error) {
	switch strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")) {
	case "txt", "text", "log":
		return DocumentTXT, nil
	case "md", "markdown":
		return DocumentMarkdown, nil
	case "html", "htm":
		return DocumentHTML, nil
	case "csv":
		return DocumentCSV, nil
	case "json":
		return DocumentJSON, nil
	}
	return "", fmt.Errorf("%w: %s", ErrUnsupportedDocument, path)
}

// Knowledge 可加载为文档的知识。
type Knowledge interface {
	Type() KnowledgeType
	DocumentType() DocumentType
	// Source 文件路径、URL 或文本知识的名称
	Source() string
	Load(ctx context.Context) ([]*schema.Document, error)
}

// Options 知识加载选项。
type Options struct {
	// Metadata 附加到每篇文档的元数据
	Metadata map[string]any
	// Encoding 目前仅支持 utf-8
	Encoding string
}

func newDocument(content, source string, opts Options) *schema.Document {
	meta := map[string]any{schema.MetaDataKeySource: source}
	for k, v := range opts.Metadata {
		meta[k] = v
	}
	return &schema.Document{Content: content, Metadata: meta}
}
