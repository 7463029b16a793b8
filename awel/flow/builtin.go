package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/bytedance/sonic"

	"github.com/favbox/gptdb/awel"
	"github.com/favbox/gptdb/components/prompt"
	"github.com/favbox/gptdb/schema"
)

// 内置算子名称
const (
	OperatorHTTPTrigger       = "http_trigger"
	OperatorRequestBuilder    = "request_builder_operator"
	OperatorPromptBuilder     = "prompt_builder_operator"
	OperatorJSONPathExtract   = "jsonpath_extract_operator"
	OperatorModelOutputToText = "model_output_to_text_operator"
)

// RegisterBuiltins 注册不依赖模型与知识库的内置算子。
func RegisterBuiltins(reg *Registry) error {
	builtins := []struct {
		meta    ViewMetadata
		factory Factory
	}{
		{httpTriggerMeta, newHTTPTrigger},
		{requestBuilderMeta, newRequestBuilder},
		{promptBuilderMeta, newPromptBuilder},
		{jsonPathMeta, newJSONPathExtract},
		{modelOutputToTextMeta, newModelOutputToText},
	}
	for _, b := range builtins {
		if err := reg.Register(b.meta, b.factory); err != nil {
			return err
		}
	}
	return nil
}

// ====== http_trigger ======

var httpTriggerMeta = ViewMetadata{
	Label:        "HTTP Trigger",
	Name:         OperatorHTTPTrigger,
	Category:     CategoryTrigger,
	OperatorType: awel.OperatorTypeTrigger,
	Description:  "Trigger the flow by an HTTP request, the request body is the call data.",
	Parameters: []Parameter{
		BuildFrom("Endpoint", "endpoint", ParameterTypeString, false, nil, "The trigger path under the flow api."),
		BuildFrom("Methods", "methods", ParameterTypeString, true, "POST", "Comma separated HTTP methods."),
	},
	Outputs: []IOField{IOFieldFrom("Request Body", "request_body", "dict", "The request body.", false)},
}

func newHTTPTrigger(_ context.Context, p Params, opts ...awel.OperatorOption) (awel.Operator, error) {
	var methods []string
	for _, m := range strings.Split(p.String("methods"), ",") {
		if m = strings.TrimSpace(m); m != "" {
			methods = append(methods, m)
		}
	}
	return awel.NewHTTPTrigger(p.String("endpoint"), methods, opts...), nil
}

// ====== request_builder_operator ======

var requestBuilderMeta = ViewMetadata{
	Label:       "Request Builder",
	Name:        OperatorRequestBuilder,
	Category:    CategoryCommon,
	Description: "Build the model request from the user input or messages.",
	Parameters: []Parameter{
		BuildFrom("Default Model Name", "model", ParameterTypeString, true, nil, "The model name of the request."),
		BuildFrom("Temperature", "temperature", ParameterTypeFloat, true, nil, "The temperature of the request."),
		BuildFrom("Max New Tokens", "max_new_tokens", ParameterTypeInt, true, nil, "The max new tokens of the request."),
		BuildFrom("Context Length", "context_len", ParameterTypeInt, true, nil, "The context length of the model."),
	},
	Inputs:  []IOField{IOFieldFrom("Request Body", "input_value", "str", "The input value of the operator.", false)},
	Outputs: []IOField{IOFieldFrom("Model Request", "output_value", "ModelRequest", "The output value of the operator.", false)},
}

// RequestDefaults request_builder_operator 的参数。
type RequestDefaults struct {
	Model        string
	Temperature  *float32
	MaxNewTokens int
	ContextLen   int
}

// BuildRequest 将用户输入转换为模型请求。
// 支持字符串、消息列表、map（model、messages、user_input 等键）与 *schema.ModelRequest。
func BuildRequest(in any, d RequestDefaults) (*schema.ModelRequest, error) {
	var req *schema.ModelRequest
	switch v := in.(type) {
	case string:
		req = &schema.ModelRequest{Messages: []*schema.ModelMessage{schema.HumanMessage(v)}}
	case []*schema.ModelMessage:
		req = &schema.ModelRequest{Messages: v}
	case *schema.ModelRequest:
		req = v.Copy()
	case map[string]any:
		raw, err := sonic.Marshal(v)
		if err != nil {
			return nil, err
		}
		req = &schema.ModelRequest{}
		if err = sonic.Unmarshal(raw, req); err != nil {
			return nil, fmt.Errorf("decode model request: %w", err)
		}
		if text, ok := v["user_input"].(string); ok && len(req.Messages) == 0 {
			req.Messages = []*schema.ModelMessage{schema.HumanMessage(text)}
		}
	default:
		return nil, fmt.Errorf("request builder: unsupported input type %T", in)
	}

	if req.Model == "" {
		req.Model = d.Model
	}
	if req.Temperature == nil {
		req.Temperature = d.Temperature
	}
	if req.MaxNewTokens == 0 {
		req.MaxNewTokens = d.MaxNewTokens
	}
	if d.ContextLen > 0 {
		if req.Context == nil {
			req.Context = &schema.ModelRequestContext{}
		}
		if req.Context.Extra == nil {
			req.Context.Extra = map[string]any{}
		}
		req.Context.Extra["context_len"] = d.ContextLen
	}
	return req, nil
}

func newRequestBuilder(_ context.Context, p Params, opts ...awel.OperatorOption) (awel.Operator, error) {
	d := RequestDefaults{
		Model:        p.String("model"),
		MaxNewTokens: p.Int("max_new_tokens"),
		ContextLen:   p.Int("context_len"),
	}
	if p.Has("temperature") {
		t := float32(p.Float("temperature"))
		d.Temperature = &t
	}
	return awel.NewMapOperator(func(_ context.Context, in any) (*schema.ModelRequest, error) {
		return BuildRequest(in, d)
	}, opts...), nil
}

// ====== prompt_builder_operator ======

var promptBuilderMeta = ViewMetadata{
	Label:       "Prompt Builder",
	Name:        OperatorPromptBuilder,
	Category:    CategoryCommon,
	Description: "Render the prompt template into chat messages.",
	Parameters: []Parameter{
		BuildFrom("System Prompt", "system_prompt", ParameterTypeString, true, nil, "The system prompt template."),
		BuildFrom("User Prompt", "user_prompt", ParameterTypeString, true, "{user_input}", "The user prompt template."),
		BuildFrom("Template Format", "format", ParameterTypeString, true, "f-string", "The template format.",
			WithOptions(
				OptionValue{Label: "f-string", Name: "f-string", Value: "f-string"},
				OptionValue{Label: "jinja2", Name: "jinja2", Value: "jinja2"},
				OptionValue{Label: "go-template", Name: "go-template", Value: "go-template"},
			)),
	},
	Inputs:  []IOField{IOFieldFrom("Variables", "variables", "dict", "The template variables, a string is used as user_input.", false)},
	Outputs: []IOField{IOFieldFrom("Messages", "messages", "ModelMessage", "The rendered messages.", true)},
}

func newPromptBuilder(_ context.Context, p Params, opts ...awel.OperatorOption) (awel.Operator, error) {
	ft, err := prompt.ParseFormatType(p.String("format"))
	if err != nil {
		return nil, err
	}
	var templates []prompt.MessageTemplate
	if sys := p.String("system_prompt"); sys != "" {
		templates = append(templates, prompt.SystemPromptTemplate(sys))
	}
	templates = append(templates, prompt.HumanPromptTemplate(p.String("user_prompt")))
	tpl := prompt.FromMessages(ft, templates...)

	return awel.NewMapOperator(func(ctx context.Context, in any) ([]*schema.ModelMessage, error) {
		vs, ok := in.(map[string]any)
		if !ok {
			vs = map[string]any{"user_input": fmt.Sprint(in)}
		}
		return tpl.Format(ctx, vs)
	}, opts...), nil
}

// ====== jsonpath_extract_operator ======

var jsonPathMeta = ViewMetadata{
	Label:       "JSONPath Extract",
	Name:        OperatorJSONPathExtract,
	Category:    CategoryOutputParser,
	Description: "Extract a value from the JSON input by a JSONPath expression.",
	Parameters: []Parameter{
		BuildFrom("JSONPath", "path", ParameterTypeString, false, nil, "The JSONPath expression, such as $.data.items[0]."),
	},
	Inputs:  []IOField{IOFieldFrom("JSON", "json", "str", "The JSON string or object.", false)},
	Outputs: []IOField{IOFieldFrom("Value", "value", "any", "The extracted value.", false)},
}

// ExtractJSONPath 按 JSONPath 从 JSON 字符串或已解码的对象中取值。
func ExtractJSONPath(path string, in any) (any, error) {
	doc := in
	switch v := in.(type) {
	case string:
		if err := sonic.UnmarshalString(v, &doc); err != nil {
			return nil, fmt.Errorf("jsonpath: input is not valid json: %w", err)
		}
	case []byte:
		if err := sonic.Unmarshal(v, &doc); err != nil {
			return nil, fmt.Errorf("jsonpath: input is not valid json: %w", err)
		}
	case *schema.ModelOutput:
		if err := sonic.UnmarshalString(v.Text, &doc); err != nil {
			return nil, fmt.Errorf("jsonpath: model output is not valid json: %w", err)
		}
	}
	return jsonpath.Get(path, doc)
}

func newJSONPathExtract(_ context.Context, p Params, opts ...awel.OperatorOption) (awel.Operator, error) {
	path := p.String("path")
	return awel.NewMapOperator(func(_ context.Context, in any) (any, error) {
		return ExtractJSONPath(path, in)
	}, opts...), nil
}

// ====== model_output_to_text_operator ======

var modelOutputToTextMeta = ViewMetadata{
	Label:       "Model Output To Text",
	Name:        OperatorModelOutputToText,
	Category:    CategoryConversion,
	Description: "Convert the model output to text, a failed output becomes an error.",
	Inputs:      []IOField{IOFieldFrom("Model Output", "model_output", "ModelOutput", "The model output.", false)},
	Outputs:     []IOField{IOFieldFrom("Text", "text", "str", "The text of the model output.", false)},
}

func newModelOutputToText(_ context.Context, _ Params, opts ...awel.OperatorOption) (awel.Operator, error) {
	return awel.NewMapOperator(func(_ context.Context, out *schema.ModelOutput) (string, error) {
		if out == nil {
			return "", nil
		}
		if err := out.Err(); err != nil {
			return "", err
		}
		return out.Text, nil
	}, opts...), nil
}
