// Package gptdbs 社区包（流程、算子、智能体、资源、应用）的仓库与安装管理。
//
// 目录布局：
//
//	<root>/repos/<org>/<name>          仓库副本
//	<root>/repos/repos.yaml            仓库索引
//	<root>/packages/<name>             已安装的包
//	<root>/packages/installed.yaml     安装索引
package gptdbs

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/favbox/gptdb/internal/logging"
)

var (
	ErrRepoNotFound    = errors.New("repo not found")
	ErrRepoExists      = errors.New("repo already exists")
	ErrPackageNotFound = errors.New("package not found")
	ErrNotInstalled    = errors.New("package not installed")
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	ManifestFile          = "gptdbs.yaml"
	DefaultDefinitionFile = "definition.json"

	reposIndexFile     = "repos.yaml"
	installedIndexFile = "installed.yaml"
)

// DefaultRoot 环境变量 GPTDB_HOME，否则为 ~/.gptdb。
func DefaultRoot() string {
	if v := os.Getenv("GPTDB_HOME"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gptdb"
	}
	return filepath.Join(home, ".gptdb")
}

// Option Manager 选项。
type Option func(*Manager)

// WithGit 替换 git 实现。
func WithGit(g Git) Option {
	return func(m *Manager) { m.git = g }
}

// WithOutput 进度输出，默认 os.Stdout。
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager 管理 root 目录下的仓库与已安装包，可并发使用。
type Manager struct {
	root   string
	git    Git
	out    io.Writer
	logger *slog.Logger

	mu sync.Mutex
}

// NewManager root 为空时使用 DefaultRoot。
func NewManager(root string, opts ...Option) *Manager {
	if root == "" {
		root = DefaultRoot()
	}
	m := &Manager{root: root, git: ExecGit{}, out: os.Stdout, logger: logging.L()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Root() string        { return m.root }
func (m *Manager) ReposDir() string    { return filepath.Join(m.root, "repos") }
func (m *Manager) PackagesDir() string { return filepath.Join(m.root, "packages") }

func (m *Manager) repoPath(name string) string {
	return filepath.Join(m.ReposDir(), filepath.FromSlash(name))
}

// copyDir 以 src 的内容替换 dst。
func copyDir(src, dst string) error {
	if err := os.RemoveAll(dst); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.CopyFS(dst, os.DirFS(src))
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}
