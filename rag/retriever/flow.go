package retriever

import (
	"context"
	"fmt"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/retriever"
	"github.com/favbox/gptdb/schema"
)

// 算子名称
const (
	OperatorKnowledgeRetriever = "knowledge_retriever_operator"
	OperatorChunksToString     = "chunks_to_string_operator"
)

var knowledgeRetrieverMeta = flow.ViewMetadata{
	Label:       "Knowledge Retriever Operator",
	Name:        OperatorKnowledgeRetriever,
	Category:    flow.CategoryRAG,
	Description: "Retrieve chunks related to the query from the knowledge space.",
	Parameters: []flow.Parameter{
		flow.BuildFrom("Retriever", "retriever", flow.ParameterTypeResource, false, nil,
			"The retriever.", flow.WithResourceType(string(components.ComponentOfRetriever))),
		flow.BuildFrom("Top K", "top_k", flow.ParameterTypeInt, true, DefaultTopK, "The number of chunks to return."),
		flow.BuildFrom("Score Threshold", "score_threshold", flow.ParameterTypeFloat, true, 0.0, "The minimum similarity score."),
	},
	Inputs:  []flow.IOField{flow.IOFieldFrom("Query", "query", "str", "The query to retrieve.", false)},
	Outputs: []flow.IOField{flow.IOFieldFrom("Chunks", "chunks", "Chunk", "The retrieved chunks.", true)},
}

var chunksToStringMeta = flow.ViewMetadata{
	Label:       "Chunks To String",
	Name:        OperatorChunksToString,
	Category:    flow.CategoryRAG,
	Description: "Join the retrieved chunks into the context text.",
	Inputs:      []flow.IOField{flow.IOFieldFrom("Chunks", "chunks", "Chunk", "The chunks.", true)},
	Outputs:     []flow.IOField{flow.IOFieldFrom("Context", "context", "str", "The joined text.", false)},
}

// NewKnowledgeRetrieverOperator 输入查询，输出片段列表。
// 查询可以是文本、带 query 字段的 map 或模型请求（取最后一条用户消息）。
func NewKnowledgeRetrieverOperator(r retriever.Retriever, topK int, threshold float64,
	opts ...awel.OperatorOption) *awel.MapOperator[any, []*schema.Chunk] {
	return awel.NewMapOperator(func(ctx context.Context, in any) ([]*schema.Chunk, error) {
		query, err := queryFrom(in)
		if err != nil {
			return nil, err
		}
		return r.RetrieveWithScores(ctx, query, threshold, retriever.WithTopK(topK))
	}, opts...)
}

func queryFrom(in any) (string, error) {
	switch v := in.(type) {
	case string:
		return v, nil
	case map[string]any:
		if q, ok := v["query"].(string); ok {
			return q, nil
		}
	case *schema.ModelRequest:
		for i := len(v.Messages) - 1; i >= 0; i-- {
			if v.Messages[i].Role == schema.Human {
				return v.Messages[i].Content, nil
			}
		}
	}
	return "", fmt.Errorf("cannot take a query from %T", in)
}

// RegisterFlowOperators 注册检索相关算子。
func RegisterFlowOperators(reg *flow.Registry) error {
	if err := reg.Register(knowledgeRetrieverMeta, func(_ context.Context, p flow.Params, opts ...awel.OperatorOption) (awel.Operator, error) {
		r, ok := p["retriever"].(retriever.Retriever)
		if !ok {
			return nil, fmt.Errorf("parameter 'retriever' is %T, not a Retriever", p["retriever"])
		}
		topK := DefaultTopK
		if p.Has("top_k") {
			topK = p.Int("top_k")
		}
		return NewKnowledgeRetrieverOperator(r, topK, p.Float("score_threshold"), opts...), nil
	}); err != nil {
		return err
	}
	return reg.Register(chunksToStringMeta, func(_ context.Context, _ flow.Params, opts ...awel.OperatorOption) (awel.Operator, error) {
		return awel.NewMapOperator(func(_ context.Context, chunks []*schema.Chunk) (string, error) {
			return JoinChunks(chunks), nil
		}, opts...), nil
	})
}
