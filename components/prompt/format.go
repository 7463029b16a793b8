package prompt

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/nikolalohinski/gonja"
	"github.com/nikolalohinski/gonja/config"
	"github.com/nikolalohinski/gonja/nodes"
	"github.com/nikolalohinski/gonja/parser"
	"github.com/slongfield/pyfmt"
)

// FormatType 模板格式化方式。
type FormatType uint8

const (
	// FString Python 风格 {name} 占位符，由 pyfmt 实现
	FString FormatType = 0
	// GoTemplate text/template 模板
	GoTemplate FormatType = 1
	// Jinja2 jinja2 模板，由 gonja 实现
	Jinja2 FormatType = 2
)

// ParseFormatType 解析 "f-string"、"jinja2"、"go-template"，空串视为 f-string。
func ParseFormatType(s string) (FormatType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f-string", "fstring":
		return FString, nil
	case "jinja2":
		return Jinja2, nil
	case "go-template", "gotemplate":
		return GoTemplate, nil
	default:
		return FString, fmt.Errorf("unknown template format: %q", s)
	}
}

// Render 按格式化方式渲染模板字符串。
func Render(content string, vs map[string]any, formatType FormatType) (string, error) {
	switch formatType {
	case FString:
		return pyfmt.Fmt(content, vs)
	case GoTemplate:
		tpl, err := template.New("template").Option("missingkey=error").Parse(content)
		if err != nil {
			return "", err
		}
		sb := new(strings.Builder)
		if err = tpl.Execute(sb, vs); err != nil {
			return "", err
		}
		return sb.String(), nil
	case Jinja2:
		env, err := getJinjaEnv()
		if err != nil {
			return "", err
		}
		tpl, err := env.FromString(content)
		if err != nil {
			return "", err
		}
		return tpl.Execute(vs)
	default:
		return "", fmt.Errorf("unknown format type: %v", formatType)
	}
}

var (
	jinjaEnvOnce sync.Once
	jinjaEnv     *gonja.Environment
	envInitErr   error
)

// 禁止模板访问文件系统的关键字
var disabledJinjaKeywords = []string{"include", "extends", "import", "from"}

func getJinjaEnv() (*gonja.Environment, error) {
	jinjaEnvOnce.Do(func() {
		jinjaEnv = gonja.NewEnvironment(config.DefaultConfig, gonja.DefaultLoader)
		for _, kw := range disabledJinjaKeywords {
			if !jinjaEnv.Statements.Exists(kw) {
				continue
			}
			kw := kw
			err := jinjaEnv.Statements.Replace(kw, func(*parser.Parser, *parser.Parser) (nodes.Statement, error) {
				return nil, fmt.Errorf("keyword[%s] has been disabled", kw)
			})
			if err != nil {
				envInitErr = fmt.Errorf("init jinja env fail: %w", err)
				return
			}
		}
	})
	return jinjaEnv, envInitErr
}
