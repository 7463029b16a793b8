package chunk

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/favbox/gptdb/schema"
)

// Section 切分出的一段文本及其附加元数据。
type Section struct {
	Content  string
	Metadata map[string]any
}

// Splitter 文本切分器。
type Splitter interface {
	Split(text string) []Section
}

// ====== 按长度 ======

// SizeSplitter 固定长度滑动窗口，相邻片段重叠 overlap 个字符。
type SizeSplitter struct {
	size, overlap int
}

func NewSizeSplitter(size, overlap int) *SizeSplitter {
	return &SizeSplitter{size: size, overlap: overlap}
}

func (s *SizeSplitter) Split(text string) []Section {
	var out []Section
	for _, p := range window([]rune(text), s.size, s.overlap) {
		if strings.TrimSpace(p) != "" {
			out = append(out, Section{Content: p})
		}
	}
	return out
}

func window(runes []rune, size, overlap int) []string {
	if len(runes) == 0 {
		return nil
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}
	var out []string
	for start := 0; ; start += step {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			return out
		}
	}
}

// ====== 按分隔符 ======

// SeparatorSplitter 按分隔符切分，可选合并为不超过 size 的片段。
type SeparatorSplitter struct {
	sep           string
	size, overlap int
	merge         bool
}

func NewSeparatorSplitter(sep string, size, overlap int, merge bool) *SeparatorSplitter {
	return &SeparatorSplitter{sep: sep, size: size, overlap: overlap, merge: merge}
}

func (s *SeparatorSplitter) Split(text string) []Section {
	return s.pieces(strings.Split(text, s.sep), s.sep)
}

func (s *SeparatorSplitter) pieces(parts []string, joiner string) []Section {
	parts = nonEmpty(parts)
	if s.merge {
		parts = mergePieces(parts, joiner, s.size, s.overlap)
	}
	out := make([]Section, 0, len(parts))
	for _, p := range parts {
		// 超长片段再按长度切分
		if utf8.RuneCountInString(p) > s.size {
			for _, w := range window([]rune(p), s.size, s.overlap) {
				out = append(out, Section{Content: w})
			}
			continue
		}
		out = append(out, Section{Content: p})
	}
	return out
}

// ====== 按段落 ======

var paragraphRe = regexp.MustCompile(`\n\s*\n`)

// ParagraphSplitter 按空行切分段落。
type ParagraphSplitter struct {
	SeparatorSplitter
}

func NewParagraphSplitter(size, overlap int, merge bool) *ParagraphSplitter {
	return &ParagraphSplitter{SeparatorSplitter{sep: "\n\n", size: size, overlap: overlap, merge: merge}}
}

func (s *ParagraphSplitter) Split(text string) []Section {
	return s.pieces(paragraphRe.Split(text, -1), "\n\n")
}

// ====== 按 Markdown 标题 ======

var headerRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*\s*$`)

// MarkdownHeaderSplitter 按标题切分，片段元数据记录所在的标题层级。
type MarkdownHeaderSplitter struct {
	size, overlap int
}

func NewMarkdownHeaderSplitter(size, overlap int) *MarkdownHeaderSplitter {
	return &MarkdownHeaderSplitter{size: size, overlap: overlap}
}

func (s *MarkdownHeaderSplitter) Split(text string) []Section {
	var (
		out     []Section
		headers [6]string
		body    []string
		inFence bool
	)
	flush := func() {
		content := strings.TrimSpace(strings.Join(body, "\n"))
		body = body[:0]
		if content == "" {
			return
		}
		meta := map[string]any{}
		var titles []string
		for i, h := range headers {
			if h == "" {
				continue
			}
			meta["header"+string(rune('1'+i))] = h
			titles = append(titles, h)
		}
		if len(titles) > 0 {
			meta[schema.MetaDataKeyTitle] = strings.Join(titles, " / ")
		}
		for _, w := range window([]rune(content), s.size, s.overlap) {
			out = append(out, Section{Content: w, Metadata: meta})
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
		}
		m := headerRe.FindStringSubmatch(line)
		if inFence || m == nil {
			body = append(body, line)
			continue
		}
		flush()
		level := len(m[1])
		headers[level-1] = m[2]
		for i := level; i < len(headers); i++ {
			headers[i] = ""
		}
	}
	flush()
	return out
}

// ====== 工具函数 ======

func nonEmpty(parts []string) []string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mergePieces 依次合并片段到不超过 size，新片段以上一片段末尾不超过 overlap 的若干片段开头。
func mergePieces(parts []string, joiner string, size, overlap int) []string {
	var (
		out   []string
		cur   []string
		total int
	)
	jl := utf8.RuneCountInString(joiner)
	length := func(n int) int {
		if len(cur) == 0 {
			return n
		}
		return total + jl + n
	}
	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if len(cur) > 0 && length(n) > size {
			out = append(out, strings.Join(cur, joiner))
			for len(cur) > 0 && (total > overlap || length(n) > size) {
				total -= utf8.RuneCountInString(cur[0])
				if len(cur) > 1 {
					total -= jl
				}
				cur = cur[1:]
			}
		}
		total = length(n)
		cur = append(cur, p)
	}
	if len(cur) > 0 {
		out = append(out, strings.Join(cur, joiner))
	}
	return out
}
