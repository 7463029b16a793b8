package chunk

import (
	"fmt"
	"maps"

	"github.com/favbox/gptdb/schema"
)

// MetaDataKeyChunkIndex 片段在所属文档中的序号
const MetaDataKeyChunkIndex = "chunk_index"

// Manager 按参数选择切分器并将文档切分为片段。
type Manager struct {
	params   Parameters
	splitter Splitter
}

// NewManager 参数先补全默认值再校验。
func NewManager(params Parameters) (*Manager, error) {
	params = params.WithDefaults()
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Manager{params: params, splitter: newSplitter(params)}, nil
}

func newSplitter(p Parameters) Splitter {
	switch p.Strategy {
	case StrategyByParagraph:
		return NewParagraphSplitter(p.ChunkSize, p.ChunkOverlap, p.EnableMerge)
	case StrategyBySeparator:
		return NewSeparatorSplitter(p.Separator, p.ChunkSize, p.ChunkOverlap, p.EnableMerge)
	case StrategyByMarkdownHeader:
		return NewMarkdownHeaderSplitter(p.ChunkSize, p.ChunkOverlap)
	default:
		return NewSizeSplitter(p.ChunkSize, p.ChunkOverlap)
	}
}

// Parameters 生效的切分参数。
func (m *Manager) Parameters() Parameters { return m.params }

// Split 切分文档，片段继承文档元数据并记录序号。
func (m *Manager) Split(docs []*schema.Document) ([]*schema.Chunk, error) {
	var chunks []*schema.Chunk
	for i, doc := range docs {
		if doc == nil {
			return nil, fmt.Errorf("document %d is nil", i)
		}
		for j, sec := range m.splitter.Split(doc.Content) {
			meta := maps.Clone(doc.Metadata)
			if meta == nil {
				meta = make(map[string]any, len(sec.Metadata)+1)
			}
			maps.Copy(meta, sec.Metadata)
			meta[MetaDataKeyChunkIndex] = j
			c := schema.NewChunk(sec.Content, meta)
			if m.params.Strategy == StrategyByParagraph {
				c.Separator = "\n\n"
			}
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}
