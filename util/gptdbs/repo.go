package gptdbs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

// Repo 已添加的仓库。
type Repo struct {
	// Name 形如 <org>/<name>
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Branch string `yaml:"branch,omitempty"`
	// Local 为 true 时 URL 是本地目录，更新时重新复制
	Local bool   `yaml:"local,omitempty"`
	Path  string `yaml:"-"`
}

type repoIndex struct {
	Repos []*Repo `yaml:"repos"`
}

func validateRepoName(name string) error {
	org, repo, ok := strings.Cut(name, "/")
	if !ok || org == "" || repo == "" || strings.Contains(repo, "/") || strings.Contains(name, "..") {
		return fmt.Errorf("%w: repo name must be <org>/<name>, got '%s'", ErrInvalidArgument, name)
	}
	return nil
}

func readYAML(path string, v any) error {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err = yaml.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func writeYAML(path string, v any) error {
	raw, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func (m *Manager) loadRepos() (*repoIndex, error) {
	idx := new(repoIndex)
	if err := readYAML(filepath.Join(m.ReposDir(), reposIndexFile), idx); err != nil {
		return nil, err
	}
	for _, r := range idx.Repos {
		r.Path = m.repoPath(r.Name)
	}
	return idx, nil
}

func (m *Manager) saveRepos(idx *repoIndex) error {
	slices.SortFunc(idx.Repos, func(a, b *Repo) int { return strings.Compare(a.Name, b.Name) })
	return writeYAML(filepath.Join(m.ReposDir(), reposIndexFile), idx)
}

// AddRepo url 为本地目录时复制，否则 git clone。
func (m *Manager) AddRepo(ctx context.Context, name, url, branch string) (*Repo, error) {
	if err := validateRepoName(name); err != nil {
		return nil, err
	}
	if url == "" {
		return nil, fmt.Errorf("%w: repo url is required", ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadRepos()
	if err != nil {
		return nil, err
	}
	if slices.ContainsFunc(idx.Repos, func(r *Repo) bool { return r.Name == name }) {
		return nil, fmt.Errorf("%w: '%s'", ErrRepoExists, name)
	}

	r := &Repo{Name: name, URL: url, Branch: branch, Local: isDir(url), Path: m.repoPath(name)}
	if r.Local {
		if r.URL, err = filepath.Abs(url); err != nil {
			return nil, err
		}
	}
	if err = m.fetch(ctx, r); err != nil {
		_ = os.RemoveAll(r.Path)
		return nil, fmt.Errorf("add repo '%s': %w", name, err)
	}
	idx.Repos = append(idx.Repos, r)
	if err = m.saveRepos(idx); err != nil {
		return nil, err
	}
	m.logger.Info("repo added", slog.String("repo", name), slog.String("url", url))
	return r, nil
}

func (m *Manager) fetch(ctx context.Context, r *Repo) error {
	if r.Local {
		return copyDir(r.URL, r.Path)
	}
	if err := os.MkdirAll(filepath.Dir(r.Path), 0o755); err != nil {
		return err
	}
	return m.git.Clone(ctx, r.URL, r.Branch, r.Path)
}

// RemoveRepo 删除仓库副本与索引记录。
func (m *Manager) RemoveRepo(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadRepos()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(idx.Repos, func(r *Repo) bool { return r.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: '%s'", ErrRepoNotFound, name)
	}
	r := idx.Repos[i]
	if err = os.RemoveAll(r.Path); err != nil {
		return err
	}
	// 组织目录为空时一并删除
	_ = os.Remove(filepath.Dir(r.Path))
	idx.Repos = slices.Delete(idx.Repos, i, i+1)
	return m.saveRepos(idx)
}

// ListRepos 按名称排序。
func (m *Manager) ListRepos() ([]*Repo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadRepos()
	if err != nil {
		return nil, err
	}
	return idx.Repos, nil
}

// UpdateRepos 更新指定仓库，name 为空或 all 时更新全部。
func (m *Manager) UpdateRepos(ctx context.Context, name string) error {
	repos, err := m.ListRepos()
	if err != nil {
		return err
	}
	if name != "" && name != "all" {
		repos = slices.DeleteFunc(repos, func(r *Repo) bool { return r.Name != name })
		if len(repos) == 0 {
			return fmt.Errorf("%w: '%s'", ErrRepoNotFound, name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, r := range repos {
		fmt.Fprintf(m.out, "Updating repo '%s'...\n", r.Name)
		g.Go(func() error {
			if err := m.updateRepo(gctx, r); err != nil {
				return fmt.Errorf("update repo '%s': %w", r.Name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (m *Manager) updateRepo(ctx context.Context, r *Repo) error {
	if r.Local {
		return copyDir(r.URL, r.Path)
	}
	if !isDir(r.Path) {
		return m.git.Clone(ctx, r.URL, r.Branch, r.Path)
	}
	return m.git.Pull(ctx, r.Path)
}

// EnsureDefaultRepos 没有任何仓库时添加 defaults。
func (m *Manager) EnsureDefaultRepos(ctx context.Context, defaults []*Repo) error {
	repos, err := m.ListRepos()
	if err != nil || len(repos) > 0 {
		return err
	}
	for _, r := range defaults {
		if _, err = m.AddRepo(ctx, r.Name, r.URL, r.Branch); err != nil {
			return err
		}
	}
	return nil
}
