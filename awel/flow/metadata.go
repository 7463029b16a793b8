package flow

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/favbox/gptdb/awel"
)

// OperatorCategory 算子在流程编辑器中的分类。
type OperatorCategory string

const (
	CategoryTrigger      OperatorCategory = "trigger"
	CategoryLLM          OperatorCategory = "llm"
	CategoryConversion   OperatorCategory = "conversion"
	CategoryOutputParser OperatorCategory = "output_parser"
	CategoryCommon       OperatorCategory = "common"
	CategoryRAG          OperatorCategory = "rag"
	CategoryAgent        OperatorCategory = "agent"
	CategoryDatabase     OperatorCategory = "database"
	CategoryExample      OperatorCategory = "example"
)

// ParameterType 参数类型。
type ParameterType string

const (
	ParameterTypeString   ParameterType = "str"
	ParameterTypeInt      ParameterType = "int"
	ParameterTypeFloat    ParameterType = "float"
	ParameterTypeBool     ParameterType = "bool"
	ParameterTypeResource ParameterType = "resource"
)

// ErrMissingParameter 必填参数没有值。
var ErrMissingParameter = errors.New("missing required parameter")

// OptionValue 参数的可选值。
type OptionValue struct {
	Label string `json:"label"`
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Parameter 算子参数描述。
type Parameter struct {
	Label       string        `json:"label"`
	Name        string        `json:"name"`
	Type        ParameterType `json:"type"`
	Optional    bool          `json:"optional"`
	Default     any           `json:"default,omitempty"`
	Description string        `json:"description,omitempty"`
	Options     []OptionValue `json:"options,omitempty"`
	// ResourceType type 为 resource 时引用的组件种类，如 LLMClient
	ResourceType string `json:"resource_type,omitempty"`
	// Value 流程中填写的值，仅在导出流程节点时出现
	Value any `json:"value,omitempty"`
}

// ParameterOption 构造参数的可选项。
type ParameterOption func(*Parameter)

// WithOptions 限定参数取值。
func WithOptions(options ...OptionValue) ParameterOption {
	return func(p *Parameter) {
		p.Options = options
	}
}

// WithResourceType 设置资源参数引用的组件种类。
func WithResourceType(rt string) ParameterOption {
	return func(p *Parameter) {
		p.ResourceType = rt
	}
}

// BuildFrom 创建参数描述。
func BuildFrom(label, name string, typ ParameterType, optional bool, def any, description string, opts ...ParameterOption) Parameter {
	p := Parameter{
		Label:       label,
		Name:        name,
		Type:        typ,
		Optional:    optional,
		Default:     def,
		Description: description,
	}
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// Resolve 校验并转换参数值，raw 为 nil 时使用默认值。
// 资源参数返回引用名，由调用方解析。
func (p Parameter) Resolve(raw any) (any, error) {
	if raw == nil || raw == "" && p.Type != ParameterTypeString {
		raw = p.Default
	}
	if raw == nil {
		if p.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %s", ErrMissingParameter, p.Name)
	}
	v, err := coerce(p.Type, raw)
	if err != nil {
		return nil, fmt.Errorf("parameter '%s': %w", p.Name, err)
	}
	if len(p.Options) > 0 && !p.allowed(v) {
		return nil, fmt.Errorf("parameter '%s': value %v is not one of the options", p.Name, v)
	}
	return v, nil
}

func (p Parameter) allowed(v any) bool {
	for _, o := range p.Options {
		ov, err := coerce(p.Type, o.Value)
		if err == nil && ov == v {
			return true
		}
	}
	return false
}

func coerce(typ ParameterType, raw any) (any, error) {
	switch typ {
	case ParameterTypeString, ParameterTypeResource:
		switch v := raw.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		case float64, float32, int, int64, bool:
			return fmt.Sprint(v), nil
		}
	case ParameterTypeInt:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case int32:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return nil, err
			}
			return n, nil
		}
	case ParameterTypeFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case ParameterTypeBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
	default:
		return nil, fmt.Errorf("unknown parameter type %q", typ)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", raw, typ)
}

// IOField 算子的输入或输出描述。
type IOField struct {
	Label       string `json:"label"`
	Name        string `json:"name"`
	TypeName    string `json:"type_name"`
	Description string `json:"description,omitempty"`
	IsList      bool   `json:"is_list"`
}

// IOFieldFrom 创建输入输出描述。
func IOFieldFrom(label, name, typeName, description string, isList bool) IOField {
	return IOField{Label: label, Name: name, TypeName: typeName, Description: description, IsList: isList}
}

// ViewMetadata 算子在流程编辑器中的元数据。
type ViewMetadata struct {
	Label        string            `json:"label"`
	Name         string            `json:"name"`
	Category     OperatorCategory  `json:"category"`
	Description  string            `json:"description"`
	OperatorType awel.OperatorType `json:"operator_type"`
	Parameters   []Parameter       `json:"parameters"`
	Inputs       []IOField         `json:"inputs"`
	Outputs      []IOField         `json:"outputs"`
	Tags         map[string]string `json:"tags,omitempty"`
	Version      string            `json:"version"`
}

// Validate 检查元数据自身是否完整。
func (m *ViewMetadata) Validate() error {
	if m.Name == "" {
		return errors.New("operator metadata name is required")
	}
	if m.Label == "" {
		return fmt.Errorf("operator '%s' label is required", m.Name)
	}
	seen := make(map[string]bool, len(m.Parameters))
	for _, p := range m.Parameters {
		if seen[p.Name] {
			return fmt.Errorf("operator '%s' has duplicate parameter '%s'", m.Name, p.Name)
		}
		seen[p.Name] = true
		switch p.Type {
		case ParameterTypeString, ParameterTypeInt, ParameterTypeFloat, ParameterTypeBool, ParameterTypeResource:
		default:
			return fmt.Errorf("operator '%s': unknown parameter type %q", m.Name, p.Type)
		}
	}
	return nil
}

// Parameter 按名称查找参数。
func (m *ViewMetadata) Parameter(name string) (Parameter, bool) {
	for _, p := range m.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// ResolveParameters 按声明校验并转换全部参数值，未声明的参数被忽略。
func (m *ViewMetadata) ResolveParameters(raw map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m.Parameters))
	for _, p := range m.Parameters {
		v, err := p.Resolve(raw[p.Name])
		if err != nil {
			return nil, err
		}
		out[p.Name] = v
	}
	return out, nil
}

// ParametersSchema 以 JSON Schema 描述参数，属性按声明顺序排列。
func (m *ViewMetadata) ParametersSchema() *jsonschema.Schema {
	sc := &jsonschema.Schema{
		Type:       "object",
		Title:      m.Label,
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   make([]string, 0, len(m.Parameters)),
	}
	for _, p := range m.Parameters {
		ps := &jsonschema.Schema{
			Type:        jsonType(p.Type),
			Title:       p.Label,
			Description: p.Description,
			Default:     p.Default,
		}
		if len(p.Options) > 0 {
			ps.Enum = make([]any, len(p.Options))
			for i, o := range p.Options {
				ps.Enum[i] = o.Value
			}
		}
		sc.Properties.Set(p.Name, ps)
		if !p.Optional {
			sc.Required = append(sc.Required, p.Name)
		}
	}
	return sc
}

func jsonType(t ParameterType) string {
	switch t {
	case ParameterTypeInt:
		return "integer"
	case ParameterTypeFloat:
		return "number"
	case ParameterTypeBool:
		return "boolean"
	default:
		return "string"
	}
}
