package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/gptdb/util/gptdbs"
)

func run(t *testing.T, args ...string) (string, error) {
	cmd := newRootCmd()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func setupHome(t *testing.T) string {
	home := t.TempDir()
	t.Setenv("GPTDB_HOME", home)
	t.Chdir(t.TempDir())
	return home
}

func TestNewApp(t *testing.T) {
	setupHome(t)
	dir := t.TempDir()

	out, err := run(t, "new", "app", "-n", "my-flow", "-d", "demo", "-C", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "Created flow package 'my-flow'")
	assert.FileExists(t, filepath.Join(dir, "my-flow", gptdbs.ManifestFile))

	_, err = run(t, "new", "app", "-C", dir)
	assert.ErrorContains(t, err, `required flag(s) "name" not set`)

	_, err = run(t, "new", "app", "-n", "x", "-t", "widget", "-C", dir)
	assert.ErrorIs(t, err, gptdbs.ErrInvalidArgument)
}

func TestAppList(t *testing.T) {
	setupHome(t)

	out, err := run(t, "app", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed gptdbs")
	assert.Contains(t, out, "(none)")

	_, err = run(t, "app", "uninstall", "missing")
	assert.ErrorIs(t, err, gptdbs.ErrNotInstalled)
}

func TestRepoAndInstall(t *testing.T) {
	if gptdbs.CheckGit() != nil {
		t.Skip("git not available")
	}
	home := setupHome(t)

	src := t.TempDir()
	pkg := filepath.Join(src, "flows", "chat")
	require.NoError(t, os.MkdirAll(pkg, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pkg, gptdbs.ManifestFile), []byte("label: Chat\n"), 0o644))

	out, err := run(t, "repo", "add", "-r", "local/pkgs", "--url", src)
	require.NoError(t, err)
	assert.Contains(t, out, "Repo 'local/pkgs' added")

	out, err = run(t, "repo", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "local/pkgs")

	out, err = run(t, "repo", "update")
	require.NoError(t, err)
	assert.Contains(t, out, "Updating repo 'local/pkgs'...")

	out, err = run(t, "app", "list-remote")
	require.NoError(t, err)
	assert.Contains(t, out, "chat")

	out, err = run(t, "app", "install", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Installed flow 'chat' from local/pkgs")
	assert.DirExists(t, filepath.Join(home, "packages", "chat"))

	out, err = run(t, "app", "uninstall", "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Uninstalled 'chat'")

	_, err = run(t, "repo", "remove", "local/pkgs")
	require.NoError(t, err)
	_, err = run(t, "repo", "remove", "local/pkgs")
	assert.ErrorIs(t, err, gptdbs.ErrRepoNotFound)
}
