package knowledgegraph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/bytedance/sonic"
	"github.com/kaptinlin/jsonrepair"

	"github.com/favbox/gptdb/components/llm"
	"github.com/favbox/gptdb/components/prompt"
	"github.com/favbox/gptdb/schema"
	"github.com/favbox/gptdb/storage/graph"
)

var tripletPrompt = heredoc.Doc(`
	Some text is provided below. Given the text, extract up to {max_triplets}
	knowledge triplets in the form of (subject#relation#object). Avoid stopwords.

	Example:
	Text: Alice is Bob's mother.
	Triplets:
	(Alice#is mother of#Bob)

	Text: {text}
	Triplets:
`)

var keywordPrompt = heredoc.Doc(`
	A question is provided below. Given the question, extract up to {max_keywords}
	keywords from the text. Focus on extracting the keywords that we can use
	to best lookup answers to the question. Avoid stopwords.

	Provide keywords in the following comma-separated format: 'KEYWORDS: <keywords>'

	Question: {text}
`)

var tripletLine = regexp.MustCompile(`\(([^()#]+)#([^()#]+)#([^()#]+)\)`)

// extractor 通过 LLM 抽取三元组与关键词。
type extractor struct {
	client      llm.LLMClient
	model       string
	maxTriplets int
	maxKeywords int
}

func (e *extractor) ask(ctx context.Context, template string, vars map[string]any) (string, error) {
	content, err := prompt.Render(template, vars, prompt.FString)
	if err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	out, err := e.client.Generate(ctx, &schema.ModelRequest{
		Model:    e.model,
		Messages: []*schema.ModelMessage{schema.HumanMessage(content)},
	})
	if err != nil {
		return "", err
	}
	if err = out.Err(); err != nil {
		return "", err
	}
	return out.Text, nil
}

func (e *extractor) triplets(ctx context.Context, text string) ([]graph.Triplet, error) {
	answer, err := e.ask(ctx, tripletPrompt, map[string]any{"text": text, "max_triplets": e.maxTriplets})
	if err != nil {
		return nil, fmt.Errorf("extract triplets: %w", err)
	}
	return ParseTriplets(answer), nil
}

func (e *extractor) keywords(ctx context.Context, text string) ([]string, error) {
	answer, err := e.ask(ctx, keywordPrompt, map[string]any{"text": text, "max_keywords": e.maxKeywords})
	if err != nil {
		return nil, fmt.Errorf("extract keywords: %w", err)
	}
	return ParseKeywords(answer), nil
}

// ParseTriplets 解析 (s#r#o) 形式或 JSON 形式的三元组，JSON 不完整时先修复。
func ParseTriplets(answer string) []graph.Triplet {
	var out []graph.Triplet
	for _, m := range tripletLine.FindAllStringSubmatch(answer, -1) {
		out = append(out, graph.Triplet{
			Subject:  strings.TrimSpace(m[1]),
			Relation: strings.TrimSpace(m[2]),
			Object:   strings.TrimSpace(m[3]),
		})
	}
	if len(out) > 0 {
		return out
	}

	raw, ok := jsonPart(answer, '[', ']')
	if !ok {
		return nil
	}
	var objs []graph.Triplet
	if unmarshalRepaired(raw, &objs) == nil && len(objs) > 0 && objs[0].Subject != "" {
		return objs
	}
	var lists [][]string
	if unmarshalRepaired(raw, &lists) == nil {
		for _, l := range lists {
			if len(l) == 3 {
				out = append(out, graph.Triplet{Subject: l[0], Relation: l[1], Object: l[2]})
			}
		}
	}
	return out
}

// ParseKeywords 解析 "KEYWORDS: a, b" 或 JSON 数组。
func ParseKeywords(answer string) []string {
	if raw, ok := jsonPart(answer, '[', ']'); ok {
		var kws []string
		if unmarshalRepaired(raw, &kws) == nil {
			return dedupKeywords(kws)
		}
	}
	text := answer
	if i := strings.Index(strings.ToUpper(text), "KEYWORDS:"); i >= 0 {
		text = text[i+len("KEYWORDS:"):]
	}
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return dedupKeywords(strings.Split(text, ","))
}

func dedupKeywords(kws []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, k := range kws {
		k = strings.Trim(strings.TrimSpace(k), `'"`)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

// jsonPart 截取第一个 open 开始的内容，缺少结尾时交给 jsonrepair 补全。
func jsonPart(s string, open, close byte) (string, bool) {
	start := strings.IndexByte(s, open)
	if start < 0 {
		return "", false
	}
	end := strings.LastIndexByte(s, close)
	if end < start {
		return s[start:], true
	}
	return s[start : end+1], true
}

func unmarshalRepaired(raw string, v any) error {
	if err := sonic.UnmarshalString(raw, v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		return err
	}
	return sonic.UnmarshalString(repaired, v)
}
