package llm

import "github.com/favbox/gptdb/schema"

// Options 模型调用的通用选项，会覆盖 ModelRequest 中的同名字段。
type Options struct {
	// Temperature 采样温度
	Temperature *float32
	// MaxNewTokens 最大生成 token 数
	MaxNewTokens *int
	// Model 覆盖请求中的模型名称
	Model *string
	// Stop 停止词
	Stop []string
}

// Option 模型调用选项。
//
// 通用选项通过 apply 生效，实现特定的选项保存在 implSpecificOptFn 中，
// 由具体实现通过 GetImplSpecificOptions 取出。
type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

// WithTemperature 设置采样温度。
func WithTemperature(temperature float32) Option {
	return Option{apply: func(opts *Options) {
		opts.Temperature = &temperature
	}}
}

// WithMaxNewTokens 设置最大生成 token 数。
func WithMaxNewTokens(n int) Option {
	return Option{apply: func(opts *Options) {
		opts.MaxNewTokens = &n
	}}
}

// WithModel 覆盖模型名称。
func WithModel(name string) Option {
	return Option{apply: func(opts *Options) {
		opts.Model = &name
	}}
}

// WithStop 设置停止词。
func WithStop(stop []string) Option {
	return Option{apply: func(opts *Options) {
		opts.Stop = stop
	}}
}

// WrapImplSpecificOptFn 包装实现特定的选项函数。
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{implSpecificOptFn: optFn}
}

// GetCommonOptions 从 opts 中提取通用选项，base 提供默认值。
func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}
	for i := range opts {
		if opts[i].apply != nil {
			opts[i].apply(base)
		}
	}
	return base
}

// GetImplSpecificOptions 提取实现特定的选项，base 提供默认值。
func GetImplSpecificOptions[T any](base *T, opts ...Option) *T {
	if base == nil {
		base = new(T)
	}
	for i := range opts {
		if s, ok := opts[i].implSpecificOptFn.(func(*T)); ok {
			s(base)
		}
	}
	return base
}

// ApplyToRequest 返回应用了通用选项的请求副本，原请求不变。
func ApplyToRequest(req *schema.ModelRequest, opts ...Option) *schema.ModelRequest {
	if len(opts) == 0 {
		return req
	}
	o := GetCommonOptions(nil, opts...)
	n := req.Copy()
	if o.Model != nil {
		n.Model = *o.Model
	}
	if o.Temperature != nil {
		n.Temperature = o.Temperature
	}
	if o.MaxNewTokens != nil {
		n.MaxNewTokens = *o.MaxNewTokens
	}
	if o.Stop != nil {
		n.Stop = o.Stop
	}
	return n
}
