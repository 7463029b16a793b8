package embedding

// Options 向量化调用的通用选项，nil 字段表示沿用实现的默认值。
type Options struct {
	// Model 覆盖默认的向量化模型
	Model *string
	// BatchSize 单次请求的文本数量
	BatchSize *int
}

// Option 向量化调用选项。
type Option func(opts *Options)

// WithModel 指定向量化模型。
func WithModel(model string) Option {
	return func(opts *Options) { opts.Model = &model }
}

// WithBatchSize 指定单次请求的文本数量，非正数被忽略。
func WithBatchSize(n int) Option {
	return func(opts *Options) {
		if n > 0 {
			opts.BatchSize = &n
		}
	}
}

// GetCommonOptions 将 opts 依次作用于 base 并返回。
func GetCommonOptions(base *Options, opts ...Option) *Options {
	if base == nil {
		base = &Options{}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(base)
		}
	}
	return base
}
