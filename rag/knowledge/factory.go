package knowledge

import (
	"fmt"
	"net/http"
	"strings"
)

// Factory 创建各类知识。
type Factory struct {
	client *http.Client
}

// NewFactory client 为空时使用 30s 超时的默认客户端。
func NewFactory(client *http.Client) *Factory {
	if client == nil {
		client = defaultHTTPClient()
	}
	return &Factory{client: client}
}

// FromFilePath 按扩展名识别格式的文件知识。
func (f *Factory) FromFilePath(path string, opts Options) (Knowledge, error) {
	docType, err := DocumentTypeFromPath(path)
	if err != nil {
		return nil, err
	}
	return &FileKnowledge{path: path, docType: docType, opts: opts}, nil
}

// FromURL 网页知识。
func (f *Factory) FromURL(url string, opts Options) (Knowledge, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil, fmt.Errorf("invalid knowledge url: %q", url)
	}
	return &URLKnowledge{url: url, client: f.client, opts: opts}, nil
}

// FromText 文本知识，name 作为来源。
func (f *Factory) FromText(text, name string, opts Options) Knowledge {
	if name == "" {
		name = "text"
	}
	return &TextKnowledge{text: text, name: name, opts: opts}
}

// Create 按知识类型创建，source 为路径、URL 或文本。
func (f *Factory) Create(typ KnowledgeType, source string, opts Options) (Knowledge, error) {
	switch typ {
	case TypeDocument:
		return f.FromFilePath(source, opts)
	case TypeURL:
		return f.FromURL(source, opts)
	case TypeText:
		return f.FromText(source, "", opts), nil
	}
	return nil, fmt.Errorf("unknown knowledge type: %q", typ)
}
