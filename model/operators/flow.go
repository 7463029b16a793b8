package operators

import (
	"context"
	"fmt"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/awel/flow"
	"github.com/favbox/gptdb/component"
	"github.com/favbox/gptdb/components"
	"github.com/favbox/gptdb/components/llm"
)

// 算子名称
const (
	OperatorLLM          = "llm_operator"
	OperatorStreamingLLM = "streaming_llm_operator"
)

func llmClientParameter() flow.Parameter {
	return flow.BuildFrom("LLM Client", "llm_client", flow.ParameterTypeResource, true, nil,
		"The LLM Client.", flow.WithResourceType(string(components.ComponentOfLLMClient)))
}

var llmOperatorMeta = flow.ViewMetadata{
	Label:       "LLM Operator",
	Name:        OperatorLLM,
	Category:    flow.CategoryLLM,
	Description: "The LLM operator.",
	Parameters:  []flow.Parameter{llmClientParameter()},
	Inputs:      []flow.IOField{flow.IOFieldFrom("Model Request", "model_request", "ModelRequest", "The model request.", false)},
	Outputs:     []flow.IOField{flow.IOFieldFrom("Model Output", "model_output", "ModelOutput", "The model output.", false)},
}

var streamingLLMOperatorMeta = flow.ViewMetadata{
	Label:        "Streaming LLM Operator",
	Name:         OperatorStreamingLLM,
	Category:     flow.CategoryLLM,
	OperatorType: awel.OperatorTypeStreamify,
	Description:  "The streaming LLM operator.",
	Parameters:   []flow.Parameter{llmClientParameter()},
	Inputs:       []flow.IOField{flow.IOFieldFrom("Model Request", "model_request", "ModelRequest", "The model request.", false)},
	Outputs:      []flow.IOField{flow.IOFieldFrom("Model Output", "model_output", "ModelOutput", "The model output.", true)},
}

// RegisterFlowOperators 注册 llm_operator 与 streaming_llm_operator，未指定 llm_client 时通过 sys 解析。
func RegisterFlowOperators(reg *flow.Registry, sys *component.SystemApp) error {
	if err := reg.Register(llmOperatorMeta, func(_ context.Context, p flow.Params, opts ...awel.OperatorOption) (awel.Operator, error) {
		client, err := clientParam(p)
		if err != nil {
			return nil, err
		}
		return NewLLMOperator(client, sys, opts...), nil
	}); err != nil {
		return err
	}
	return reg.Register(streamingLLMOperatorMeta, func(_ context.Context, p flow.Params, opts ...awel.OperatorOption) (awel.Operator, error) {
		client, err := clientParam(p)
		if err != nil {
			return nil, err
		}
		return NewStreamingLLMOperator(client, sys, opts...), nil
	})
}

func clientParam(p flow.Params) (llm.LLMClient, error) {
	v, ok := p["llm_client"]
	if !ok || v == nil {
		return nil, nil
	}
	client, ok := v.(llm.LLMClient)
	if !ok {
		return nil, fmt.Errorf("parameter 'llm_client' is %T, not an LLMClient", v)
	}
	return client, nil
}
