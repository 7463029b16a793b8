package gptdbs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// fakeGit 以 url 为本地源目录模拟 clone，并记录 pull。
type fakeGit struct {
	mu     sync.Mutex
	clones []string
	pulls  []string
}

func (g *fakeGit) Clone(_ context.Context, url, _, dir string) error {
	g.mu.Lock()
	g.clones = append(g.clones, url)
	g.mu.Unlock()
	return os.CopyFS(dir, os.DirFS(url))
}

func (g *fakeGit) Pull(_ context.Context, dir string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pulls = append(g.pulls, dir)
	return nil
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

func writeManifest(t *testing.T, dir string, mf Manifest, definition string) {
	require.NoError(t, os.MkdirAll(dir, 0o755))
	raw, err := yaml.Marshal(&mf)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), raw, 0o644))
	if definition != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultDefinitionFile), []byte(definition), 0o644))
	}
}

// newSourceRepo 生成包含一个流程包和一个算子包的仓库目录。
func newSourceRepo(t *testing.T) string {
	src := t.TempDir()
	writeManifest(t, filepath.Join(src, "flows", "rag-chat"), Manifest{Label: "RAG Chat", Version: "0.1.0"}, `{"name":"rag-chat"}`)
	writeManifest(t, filepath.Join(src, "operators", "sql-exec"), Manifest{Name: "sql-exec", Type: TypeOperator}, "")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "flows", "no-manifest"), 0o755))
	return src
}

func TestDefaultRoot(t *testing.T) {
	t.Setenv("GPTDB_HOME", "/srv/gptdb")
	assert.Equal(t, "/srv/gptdb", DefaultRoot())
	assert.Equal(t, "/srv/gptdb", NewManager("").Root())

	t.Setenv("GPTDB_HOME", "")
	assert.Equal(t, ".gptdb", filepath.Base(DefaultRoot()))
}

func TestRepos(t *testing.T) {
	ctx := context.Background()

	Convey("仓库管理", t, func() {
		src := newSourceRepo(t)
		git := &fakeGit{}
		out := &bytes.Buffer{}
		m := NewManager(t.TempDir(), WithGit(git), WithOutput(out))

		local, err := m.AddRepo(ctx, "local/flows", src, "")
		So(err, ShouldBeNil)
		So(local.Local, ShouldBeTrue)
		So(fileExists(filepath.Join(m.ReposDir(), "local", "flows", "flows", "rag-chat", ManifestFile)), ShouldBeTrue)

		remote, err := m.AddRepo(ctx, "acme/gptdbs", src, "main")
		So(err, ShouldBeNil)
		So(remote.Local, ShouldBeTrue)

		Convey("名称校验与重复", func() {
			_, err := m.AddRepo(ctx, "flows", src, "")
			So(err, ShouldWrap, ErrInvalidArgument)
			_, err = m.AddRepo(ctx, "local/flows", src, "")
			So(err, ShouldWrap, ErrRepoExists)
		})

		Convey("git 仓库", func() {
			r, err := m.AddRepo(ctx, "git/flows", "https://example.com/flows.git", "")
			So(err, ShouldNotBeNil)
			So(r, ShouldBeNil)
			So(git.clones, ShouldResemble, []string{"https://example.com/flows.git"})
		})

		Convey("列表与删除", func() {
			repos, err := m.ListRepos()
			So(err, ShouldBeNil)
			So(len(repos), ShouldEqual, 2)
			So(repos[0].Name, ShouldEqual, "acme/gptdbs")

			So(m.RemoveRepo("acme/gptdbs"), ShouldBeNil)
			So(fileExists(filepath.Join(m.ReposDir(), "acme")), ShouldBeFalse)
			So(m.RemoveRepo("acme/gptdbs"), ShouldWrap, ErrRepoNotFound)
		})

		Convey("更新", func() {
			writeManifest(t, filepath.Join(src, "agents", "planner"), Manifest{}, "")
			So(m.UpdateRepos(ctx, "local/flows"), ShouldBeNil)
			So(out.String(), ShouldEqual, "Updating repo 'local/flows'...\n")
			So(fileExists(filepath.Join(local.Path, "agents", "planner", ManifestFile)), ShouldBeTrue)

			So(m.UpdateRepos(ctx, ""), ShouldBeNil)
			So(out.String(), ShouldContainSubstring, "Updating repo 'acme/gptdbs'...")
			So(m.UpdateRepos(ctx, "missing/repo"), ShouldWrap, ErrRepoNotFound)
		})
	})
}

func TestEnsureDefaultRepos(t *testing.T) {
	ctx := context.Background()
	src := newSourceRepo(t)
	m := NewManager(t.TempDir(), WithGit(&fakeGit{}), WithOutput(&bytes.Buffer{}))

	defaults := []*Repo{{Name: "eosphoros/dbgpts", URL: src}}
	require.NoError(t, m.EnsureDefaultRepos(ctx, defaults))
	require.NoError(t, m.EnsureDefaultRepos(ctx, []*Repo{{Name: "other/repo", URL: src}}))

	repos, err := m.ListRepos()
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "eosphoros/dbgpts", repos[0].Name)
}

func TestPackages(t *testing.T) {
	ctx := context.Background()

	Convey("安装与卸载", t, func() {
		src := newSourceRepo(t)
		m := NewManager(t.TempDir(), WithGit(&fakeGit{}), WithOutput(&bytes.Buffer{}))
		_, err := m.AddRepo(ctx, "local/flows", src, "")
		So(err, ShouldBeNil)

		pkgs, err := m.ListRemote(ctx, "", false)
		So(err, ShouldBeNil)
		So(len(pkgs), ShouldEqual, 2)
		So(pkgs[0].Name, ShouldEqual, "rag-chat")
		So(pkgs[0].Type, ShouldEqual, TypeFlow)
		So(pkgs[0].DefinitionFile, ShouldEqual, DefaultDefinitionFile)
		So(pkgs[1].Type, ShouldEqual, TypeOperator)

		_, err = m.ListRemote(ctx, "missing/repo", false)
		So(err, ShouldWrap, ErrRepoNotFound)

		inst, err := m.Install(ctx, "rag-chat", "", false)
		So(err, ShouldBeNil)
		So(inst.Repo, ShouldEqual, "local/flows")
		So(inst.Path, ShouldEqual, filepath.Join(m.PackagesDir(), "rag-chat"))
		def, err := inst.ReadDefinition()
		So(err, ShouldBeNil)
		So(string(def), ShouldEqual, `{"name":"rag-chat"}`)

		_, err = m.Install(ctx, "unknown", "", false)
		So(err, ShouldWrap, ErrPackageNotFound)

		Convey("重复安装覆盖记录", func() {
			_, err := m.Install(ctx, "rag-chat", "local/flows", true)
			So(err, ShouldBeNil)
			_, err = m.Install(ctx, "sql-exec", "", false)
			So(err, ShouldBeNil)

			installed, err := m.ListInstalled()
			So(err, ShouldBeNil)
			So(len(installed), ShouldEqual, 2)
			So(installed[0].Name, ShouldEqual, "rag-chat")
			So(fileExists(filepath.Join(m.PackagesDir(), installedIndexFile)), ShouldBeTrue)
		})

		Convey("卸载", func() {
			So(m.Uninstall("rag-chat"), ShouldBeNil)
			So(fileExists(inst.Path), ShouldBeFalse)
			So(m.Uninstall("rag-chat"), ShouldWrap, ErrNotInstalled)

			installed, err := m.ListInstalled()
			So(err, ShouldBeNil)
			So(installed, ShouldBeEmpty)
		})
	})
}

func TestNew(t *testing.T) {
	assert.Equal(t, "My Awesome Flow", DefaultLabel("my-awesome_flow"))

	dir := t.TempDir()
	pkgDir, err := New(NewOptions{Name: "my-flow", Description: "demo", Dir: dir})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "my-flow"), pkgDir)

	mf, err := readManifest(pkgDir, "")
	require.NoError(t, err)
	assert.Equal(t, Manifest{
		Name:           "my-flow",
		Label:          "My Flow",
		Description:    "demo",
		Type:           TypeFlow,
		DefinitionType: "json",
		DefinitionFile: DefaultDefinitionFile,
		Version:        "0.1.0",
	}, *mf)

	def, err := os.ReadFile(filepath.Join(pkgDir, DefaultDefinitionFile))
	require.NoError(t, err)
	assert.Contains(t, string(def), `"flow_data"`)
	readme, err := os.ReadFile(filepath.Join(pkgDir, "README.md"))
	require.NoError(t, err)
	assert.Contains(t, string(readme), "# My Flow")
	assert.Contains(t, string(readme), "    gptdb app install my-flow")

	_, err = New(NewOptions{Name: "my-flow", Dir: dir})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(NewOptions{Name: "Bad Name", Dir: dir})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(NewOptions{Name: "op", Type: "widget", Dir: dir})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = New(NewOptions{Name: "py", DefinitionType: "python", Dir: dir})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	opDir, err := New(NewOptions{Name: "sql-op", Type: "Operator", Dir: dir})
	require.NoError(t, err)
	def, err = os.ReadFile(filepath.Join(opDir, DefaultDefinitionFile))
	require.NoError(t, err)
	assert.Contains(t, string(def), `"type": "operator"`)
}
