package knowledge

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/bytedance/sonic"

	"github.com/favbox/gptdb/internal/httpx"
	"github.com/favbox/gptdb/schema"
)

// maxURLBodySize URL 内容的读取上限
const maxURLBodySize = 10 * 1024 * 1024

// ====== TEXT ======

// TextKnowledge 直接给定的文本。
type TextKnowledge struct {
	text string
	name string
	opts Options
}

func (k *TextKnowledge) Type() KnowledgeType        { return TypeText }
func (k *TextKnowledge) DocumentType() DocumentType { return DocumentTXT }
func (k *TextKnowledge) Source() string             { return k.name }

func (k *TextKnowledge) Load(context.Context) ([]*schema.Document, error) {
	if strings.TrimSpace(k.text) == "" {
		return nil, fmt.Errorf("text knowledge '%s' is empty", k.name)
	}
	return []*schema.Document{newDocument(k.text, k.name, k.opts)}, nil
}

// ====== DOCUMENT ======

// FileKnowledge 本地文件，按扩展名选择解析方式。
type FileKnowledge struct {
	path    string
	docType DocumentType
	opts    Options
}

func (k *FileKnowledge) Type() KnowledgeType        { return TypeDocument }
func (k *FileKnowledge) DocumentType() DocumentType { return k.docType }
func (k *FileKnowledge) Source() string             { return k.path }

func (k *FileKnowledge) Load(context.Context) ([]*schema.Document, error) {
	raw, err := os.ReadFile(k.path)
	if err != nil {
		return nil, fmt.Errorf("read knowledge file: %w", err)
	}
	return parseContent(raw, k.docType, k.path, k.opts)
}

func parseContent(raw []byte, docType DocumentType, source string, opts Options) ([]*schema.Document, error) {
	switch docType {
	case DocumentTXT, DocumentMarkdown:
		return []*schema.Document{newDocument(string(raw), source, opts)}, nil
	case DocumentHTML:
		md, err := htmltomarkdown.ConvertString(string(raw))
		if err != nil {
			return nil, fmt.Errorf("convert html to markdown: %w", err)
		}
		return []*schema.Document{newDocument(md, source, opts)}, nil
	case DocumentCSV:
		return parseCSV(raw, source, opts)
	case DocumentJSON:
		return parseJSON(raw, source, opts)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedDocument, docType)
}

// parseCSV 每行一篇文档，内容为 "列名: 值" 的多行文本。
func parseCSV(raw []byte, source string, opts Options) ([]*schema.Document, error) {
	r := csv.NewReader(bytes.NewReader(raw))
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	var docs []*schema.Document
	for row := 0; ; row++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		lines := make([]string, 0, len(record))
		for i, v := range record {
			col := fmt.Sprintf("column_%d", i)
			if i < len(header) {
				col = strings.TrimSpace(header[i])
			}
			lines = append(lines, col+": "+strings.TrimSpace(v))
		}
		doc := newDocument(strings.Join(lines, "\n"), source, opts)
		doc.Metadata["row"] = row
		docs = append(docs, doc)
	}
	return docs, nil
}

// parseJSON 顶层数组的每个元素一篇文档，其余整体一篇。
func parseJSON(raw []byte, source string, opts Options) ([]*schema.Document, error) {
	var v any
	if err := sonic.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("parse json knowledge: %w", err)
	}
	items, ok := v.([]any)
	if !ok {
		return []*schema.Document{newDocument(string(bytes.TrimSpace(raw)), source, opts)}, nil
	}
	docs := make([]*schema.Document, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			b, err := sonic.Marshal(item)
			if err != nil {
				return nil, fmt.Errorf("marshal json item %d: %w", i, err)
			}
			s = string(b)
		}
		doc := newDocument(s, source, opts)
		doc.Metadata["index"] = i
		docs = append(docs, doc)
	}
	return docs, nil
}

// ====== URL ======

// URLKnowledge 网页，HTML 转换为 Markdown。
type URLKnowledge struct {
	url    string
	client *http.Client
	opts   Options
}

func (k *URLKnowledge) Type() KnowledgeType        { return TypeURL }
func (k *URLKnowledge) DocumentType() DocumentType { return DocumentHTML }
func (k *URLKnowledge) Source() string             { return k.url }

func (k *URLKnowledge) Load(ctx context.Context) ([]*schema.Document, error) {
	resp, err := httpx.Do(ctx, k.client, &httpx.Request{Method: http.MethodGet, URL: k.url})
	if err != nil {
		return nil, fmt.Errorf("fetch url knowledge: %w", err)
	}
	defer httpx.CloseWithLog(resp.Body)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxURLBodySize))
	if err != nil {
		return nil, fmt.Errorf("read url knowledge: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	docType := DocumentHTML
	switch {
	case strings.Contains(ct, "json"):
		docType = DocumentJSON
	case strings.Contains(ct, "text/plain"):
		docType = DocumentTXT
	case strings.Contains(ct, "text/markdown"):
		docType = DocumentMarkdown
	case strings.Contains(ct, "csv"):
		docType = DocumentCSV
	}
	return parseContent(raw, docType, k.url, k.opts)
}

func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}
