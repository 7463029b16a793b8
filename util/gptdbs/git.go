package gptdbs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// ErrGitNotFound 系统中没有 git 可执行文件。
var ErrGitNotFound = errors.New("git is not installed")

// GitInstallHint 找不到 git 时的提示。
const GitInstallHint = "Git is not installed. Please install Git to proceed.\n" +
	"Visit https://git-scm.com/downloads for installation instructions."

// Git 仓库同步所需的 git 操作。
type Git interface {
	Clone(ctx context.Context, url, branch, dir string) error
	Pull(ctx context.Context, dir string) error
}

// CheckGit 检查 PATH 中是否有 git。
func CheckGit() error {
	if _, err := exec.LookPath("git"); err != nil {
		return ErrGitNotFound
	}
	return nil
}

// ExecGit 调用系统 git。
type ExecGit struct{}

func (ExecGit) Clone(ctx context.Context, url, branch, dir string) error {
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	return run(ctx, "", append(args, url, dir)...)
}

func (ExecGit) Pull(ctx context.Context, dir string) error {
	return run(ctx, dir, "pull", "--ff-only")
}

func run(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
