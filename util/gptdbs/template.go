package gptdbs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/bytedance/sonic"
	"gopkg.in/yaml.v3"
)

var packageNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

func validatePackageName(name string) error {
	if !packageNamePattern.MatchString(name) {
		return fmt.Errorf("%w: package name '%s' may only contain lowercase letters, digits, '-' and '_'", ErrInvalidArgument, name)
	}
	return nil
}

// DefaultLabel 将 - 与 _ 替换为空格后按单词首字母大写。
func DefaultLabel(name string) string {
	words := strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(name))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// NewOptions 新建包的参数。
type NewOptions struct {
	Name           string
	Label          string
	Description    string
	Type           string
	DefinitionType string
	// Dir 工作目录，为空时使用当前目录
	Dir string
}

// New 在 Dir/Name 下生成包骨架，返回包目录。
func New(opts NewOptions) (string, error) {
	if err := validatePackageName(opts.Name); err != nil {
		return "", err
	}
	if opts.Type == "" {
		opts.Type = string(TypeFlow)
	}
	typ, err := ParsePackageType(opts.Type)
	if err != nil {
		return "", err
	}
	if opts.DefinitionType == "" {
		opts.DefinitionType = "json"
	}
	if opts.DefinitionType != "json" {
		return "", fmt.Errorf("%w: unsupported definition type '%s'", ErrInvalidArgument, opts.DefinitionType)
	}
	if opts.Label == "" {
		opts.Label = DefaultLabel(opts.Name)
	}
	if opts.Dir == "" {
		if opts.Dir, err = os.Getwd(); err != nil {
			return "", err
		}
	}

	dir := filepath.Join(opts.Dir, opts.Name)
	if _, err = os.Stat(dir); err == nil {
		return "", fmt.Errorf("%w: directory %s already exists", ErrInvalidArgument, dir)
	}
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	mf := Manifest{
		Name:           opts.Name,
		Label:          opts.Label,
		Description:    opts.Description,
		Type:           typ,
		DefinitionType: opts.DefinitionType,
		DefinitionFile: DefaultDefinitionFile,
		Version:        "0.1.0",
	}
	raw, err := yaml.Marshal(&mf)
	if err != nil {
		return "", err
	}
	def, err := sonic.ConfigStd.MarshalIndent(definitionSkeleton(&mf), "", "  ")
	if err != nil {
		return "", err
	}
	files := map[string][]byte{
		ManifestFile:          raw,
		DefaultDefinitionFile: append(def, '\n'),
		"README.md":           []byte(readme(&mf)),
	}
	for name, data := range files {
		if err = os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return "", err
		}
	}
	return dir, nil
}

func definitionSkeleton(mf *Manifest) any {
	if mf.Type != TypeFlow {
		return map[string]any{
			"name":        mf.Name,
			"label":       mf.Label,
			"description": mf.Description,
			"type":        mf.Type,
		}
	}
	return map[string]any{
		"flow": map[string]any{
			"name":          mf.Name,
			"label":         mf.Label,
			"desc":          mf.Description,
			"flow_category": "common",
			"define_type":   "json",
			"flow_data":     map[string]any{"nodes": []any{}, "edges": []any{}},
		},
	}
}

func readme(mf *Manifest) string {
	return fmt.Sprintf(heredoc.Doc(`
		# %s

		%s

		## Install

		    gptdb app install %s
	`), mf.Label, mf.Description, mf.Name)
}
