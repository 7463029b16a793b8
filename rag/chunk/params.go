// Package chunk 将文档切分为检索片段。
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// Strategy 切分策略。
type Strategy string

const (
	StrategyBySize           Strategy = "CHUNK_BY_SIZE"
	StrategyByParagraph      Strategy = "CHUNK_BY_PARAGRAPH"
	StrategyBySeparator      Strategy = "CHUNK_BY_SEPARATOR"
	StrategyByMarkdownHeader Strategy = "CHUNK_BY_MARKDOWN_HEADER"
)

const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// ErrInvalidParameters 切分参数不合法。
var ErrInvalidParameters = errors.New("invalid chunk parameters")

// ParseStrategy 大小写不敏感，空串为按长度切分。
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(strings.ToUpper(strings.TrimSpace(s)))
	switch st {
	case "":
		return StrategyBySize, nil
	case StrategyBySize, StrategyByParagraph, StrategyBySeparator, StrategyByMarkdownHeader:
		return st, nil
	}
	return "", fmt.Errorf("%w: unknown strategy %q", ErrInvalidParameters, s)
}

// Parameters 切分参数，长度均以字符计。
type Parameters struct {
	Strategy     Strategy `json:"chunk_strategy"`
	ChunkSize    int      `json:"chunk_size"`
	ChunkOverlap int      `json:"chunk_overlap"`
	Separator    string   `json:"separator,omitempty"`
	// EnableMerge 将过短的段落或分隔片段合并到 ChunkSize 以内
	EnableMerge bool `json:"enable_merge"`
}

// DefaultParameters 按长度切分，512/50。
func DefaultParameters() Parameters {
	return Parameters{Strategy: StrategyBySize, ChunkSize: DefaultChunkSize, ChunkOverlap: DefaultChunkOverlap}
}

// WithDefaults 补全未设置的字段。ChunkOverlap 为 0 视为显式取值。
func (p Parameters) WithDefaults() Parameters {
	if p.Strategy == "" {
		p.Strategy = StrategyBySize
	}
	if p.ChunkSize <= 0 {
		p.ChunkSize = DefaultChunkSize
	}
	if p.Strategy == StrategyBySeparator && p.Separator == "" {
		p.Separator = "\n"
	}
	return p
}

// Validate 校验参数，重叠长度必须小于片段长度。
func (p Parameters) Validate() error {
	if _, err := ParseStrategy(string(p.Strategy)); err != nil {
		return err
	}
	if p.ChunkSize <= 0 {
		return fmt.Errorf("%w: chunk_size must be positive, got %d", ErrInvalidParameters, p.ChunkSize)
	}
	if p.ChunkOverlap < 0 || p.ChunkOverlap >= p.ChunkSize {
		return fmt.Errorf("%w: chunk_overlap %d must be in [0, chunk_size %d)",
			ErrInvalidParameters, p.ChunkOverlap, p.ChunkSize)
	}
	return nil
}
