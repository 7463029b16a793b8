package gptdbs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// PackageType 包类型，仓库中位于 <type>s/ 目录下。
type PackageType string

const (
	TypeFlow     PackageType = "flow"
	TypeOperator PackageType = "operator"
	TypeAgent    PackageType = "agent"
	TypeResource PackageType = "resource"
	TypeApp      PackageType = "app"
)

// PackageTypes 支持的包类型。
var PackageTypes = []PackageType{TypeFlow, TypeOperator, TypeAgent, TypeResource, TypeApp}

// ParsePackageType 不区分大小写。
func ParsePackageType(s string) (PackageType, error) {
	t := PackageType(strings.ToLower(s))
	if !slices.Contains(PackageTypes, t) {
		return "", fmt.Errorf("%w: unknown package type '%s'", ErrInvalidArgument, s)
	}
	return t, nil
}

// Manifest gptdbs.yaml 的内容。
type Manifest struct {
	Name           string      `yaml:"name"`
	Label          string      `yaml:"label"`
	Description    string      `yaml:"description"`
	Type           PackageType `yaml:"type"`
	DefinitionType string      `yaml:"definition_type"`
	DefinitionFile string      `yaml:"definition_file"`
	Version        string      `yaml:"version"`
}

// Package 仓库中的包。
type Package struct {
	Manifest
	Repo string
	Path string
}

// InstalledPackage installed.yaml 中的记录。
type InstalledPackage struct {
	Name        string      `yaml:"name"`
	Label       string      `yaml:"label"`
	Description string      `yaml:"description"`
	Repo        string      `yaml:"repo"`
	Type        PackageType `yaml:"type"`
	Version     string      `yaml:"version"`
	// DefinitionFile 相对 Path
	DefinitionFile string    `yaml:"definition_file"`
	Path           string    `yaml:"path"`
	InstalledAt    time.Time `yaml:"installed_at"`
}

type installedIndex struct {
	Packages []*InstalledPackage `yaml:"packages"`
}

// readManifest 补齐缺省的名称、类型与定义文件。
func readManifest(dir string, typ PackageType) (*Manifest, error) {
	mf := new(Manifest)
	path := filepath.Join(dir, ManifestFile)
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if err := readYAML(path, mf); err != nil {
		return nil, err
	}
	if mf.Name == "" {
		mf.Name = filepath.Base(dir)
	}
	if mf.Type == "" {
		mf.Type = typ
	}
	if mf.DefinitionType == "" {
		mf.DefinitionType = "json"
	}
	if mf.DefinitionFile == "" {
		mf.DefinitionFile = DefaultDefinitionFile
	}
	return mf, nil
}

// ListRemote 列出仓库中的包，repo 为空时列出全部仓库；update 为 true 时先更新仓库。
func (m *Manager) ListRemote(ctx context.Context, repo string, update bool) ([]*Package, error) {
	if update {
		if err := m.UpdateRepos(ctx, repo); err != nil {
			return nil, err
		}
	}
	repos, err := m.ListRepos()
	if err != nil {
		return nil, err
	}
	if repo != "" {
		repos = slices.DeleteFunc(repos, func(r *Repo) bool { return r.Name != repo })
		if len(repos) == 0 {
			return nil, fmt.Errorf("%w: '%s'", ErrRepoNotFound, repo)
		}
	}

	var pkgs []*Package
	for _, r := range repos {
		for _, typ := range PackageTypes {
			entries, err := os.ReadDir(filepath.Join(r.Path, string(typ)+"s"))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !e.IsDir() {
					continue
				}
				dir := filepath.Join(r.Path, string(typ)+"s", e.Name())
				mf, err := readManifest(dir, typ)
				if err != nil {
					m.logger.Debug("skip package without manifest", slog.String("path", dir), slog.Any("error", err))
					continue
				}
				pkgs = append(pkgs, &Package{Manifest: *mf, Repo: r.Name, Path: dir})
			}
		}
	}
	return pkgs, nil
}

// Install 将包复制到 packages/<name>，已安装时覆盖。未指定 repo 时使用第一个包含该包的仓库。
func (m *Manager) Install(ctx context.Context, name, repo string, update bool) (*InstalledPackage, error) {
	pkgs, err := m.ListRemote(ctx, repo, update)
	if err != nil {
		return nil, err
	}
	i := slices.IndexFunc(pkgs, func(p *Package) bool { return p.Name == name })
	if i < 0 {
		return nil, fmt.Errorf("%w: '%s'", ErrPackageNotFound, name)
	}
	pkg := pkgs[i]
	if err = validatePackageName(pkg.Name); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	dst := filepath.Join(m.PackagesDir(), pkg.Name)
	if err = copyDir(pkg.Path, dst); err != nil {
		return nil, fmt.Errorf("install '%s': %w", name, err)
	}
	inst := &InstalledPackage{
		Name:           pkg.Name,
		Label:          pkg.Label,
		Description:    pkg.Description,
		Repo:           pkg.Repo,
		Type:           pkg.Type,
		Version:        pkg.Version,
		DefinitionFile: pkg.DefinitionFile,
		Path:           dst,
		InstalledAt:    time.Now(),
	}
	idx, err := m.loadInstalled()
	if err != nil {
		return nil, err
	}
	idx.Packages = slices.DeleteFunc(idx.Packages, func(p *InstalledPackage) bool { return p.Name == name })
	idx.Packages = append(idx.Packages, inst)
	if err = m.saveInstalled(idx); err != nil {
		return nil, err
	}
	m.logger.Info("package installed", slog.String("name", name), slog.String("repo", pkg.Repo))
	return inst, nil
}

// Uninstall 删除已安装的包。
func (m *Manager) Uninstall(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadInstalled()
	if err != nil {
		return err
	}
	i := slices.IndexFunc(idx.Packages, func(p *InstalledPackage) bool { return p.Name == name })
	if i < 0 {
		return fmt.Errorf("%w: '%s'", ErrNotInstalled, name)
	}
	if err = os.RemoveAll(idx.Packages[i].Path); err != nil {
		return err
	}
	idx.Packages = slices.Delete(idx.Packages, i, i+1)
	return m.saveInstalled(idx)
}

// ListInstalled 按名称排序。
func (m *Manager) ListInstalled() ([]*InstalledPackage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, err := m.loadInstalled()
	if err != nil {
		return nil, err
	}
	return idx.Packages, nil
}

// ReadDefinition 读取已安装包的定义文件。
func (p *InstalledPackage) ReadDefinition() ([]byte, error) {
	file := p.DefinitionFile
	if file == "" {
		file = DefaultDefinitionFile
	}
	return os.ReadFile(filepath.Join(p.Path, file))
}

func (m *Manager) loadInstalled() (*installedIndex, error) {
	idx := new(installedIndex)
	if err := readYAML(filepath.Join(m.PackagesDir(), installedIndexFile), idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *Manager) saveInstalled(idx *installedIndex) error {
	slices.SortFunc(idx.Packages, func(a, b *InstalledPackage) int { return strings.Compare(a.Name, b.Name) })
	return writeYAML(filepath.Join(m.PackagesDir(), installedIndexFile), idx)
}
