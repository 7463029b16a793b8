package schema

import (
	"maps"

	"github.com/google/uuid"
)

const (
	// 来源元数据键，记录文档来自的文件路径或 URL
	MetaDataKeySource = "source"

	// 文档标题键，markdown 按标题切分时写入
	MetaDataKeyTitle = "title"

	// 所属知识空间键
	MetaDataKeySpace = "space"

	// 所属文档 ID 键
	MetaDataKeyDocID = "doc_id"
)

// Document 加载后的原始文档。
type Document struct {
	// Content 文档全文
	Content string `json:"content"`

	// Metadata 文档元数据，切分后的 Chunk 会继承
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Source 返回文档来源。
func (d *Document) Source() string {
	s, _ := d.Metadata[MetaDataKeySource].(string)
	return s
}

// Chunk 文档切分后的片段，是向量化与检索的最小单位。
type Chunk struct {
	// ChunkID 片段唯一标识，默认为 UUID
	ChunkID string `json:"chunk_id"`

	// Content 片段文本
	Content string `json:"content"`

	// Metadata 片段元数据
	Metadata map[string]any `json:"metadata,omitempty"`

	// Score 检索得分，越大越相关
	Score float64 `json:"score"`

	// Summary 片段摘要
	Summary string `json:"summary,omitempty"`

	// Separator 拼接相邻片段时使用的分隔符
	Separator string `json:"separator,omitempty"`

	// Vector 向量，仅在入库前后的流程中使用
	Vector []float64 `json:"-"`
}

// NewChunk 以给定内容与元数据创建 Chunk，元数据会被复制。
func NewChunk(content string, metadata map[string]any) *Chunk {
	return &Chunk{
		ChunkID:   uuid.NewString(),
		Content:   content,
		Metadata:  maps.Clone(metadata),
		Separator: "\n",
	}
}

// WithScore 设置检索得分。
func (c *Chunk) WithScore(score float64) *Chunk {
	c.Score = score
	return c
}

// WithMetadata 设置一项元数据。
func (c *Chunk) WithMetadata(key string, value any) *Chunk {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata[key] = value
	return c
}

// String 返回片段文本。
func (c *Chunk) String() string {
	return c.Content
}

// ChunksToDocument 将片段重新拼接为一篇文档。
func ChunksToDocument(chunks []*Chunk) *Document {
	doc := &Document{Metadata: map[string]any{}}
	for i, c := range chunks {
		if i > 0 {
			sep := c.Separator
			if sep == "" {
				sep = "\n"
			}
			doc.Content += sep
		}
		doc.Content += c.Content
	}
	if len(chunks) > 0 {
		maps.Copy(doc.Metadata, chunks[0].Metadata)
	}
	return doc
}
