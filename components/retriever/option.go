package retriever

// Options 检索的通用选项。
type Options struct {
	// TopK 返回的片段数量上限
	TopK *int
	// ScoreThreshold 最低得分
	ScoreThreshold *float64
	// Filters 元数据精确匹配过滤
	Filters map[string]any
}

// Option 检索选项。
type Option struct {
	apply func(opts *Options)

	implSpecificOptFn any
}

// WithTopK 设置返回数量。
func WithTopK(topK int) Option {
	return Option{apply: func(opts *Options) {
		opts.TopK = &topK
	}}
}

// WithScoreThreshold 设置最低得分。
func WithScoreThreshold(threshold float64) Option {
	return Option{apply: func(opts *Options) {
		opts.ScoreThreshold = &threshold
	}}
}

// WithFilters 设置元数据过滤条件。
func WithFilters(filters map[string]any) Option {
	return Option{apply: func(opts *Options) {
		opts.Filters = filters
	}}
}

// WrapImplSpecificOptFn 包装实现特定的选项函数。
func WrapImplSpecificOptFn[T any](optFn func(*T)) Option {
	return Option{implSpecificOptFn: optFn}
}

// GetCommonOptions 提取通用选项。
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

// GetImplSpecificOptions 提取实现特定的选项。
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
