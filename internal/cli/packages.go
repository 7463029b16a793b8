package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/favbox/gptdb/config"
	"github.com/favbox/gptdb/util/gptdbs"
)

// errGitMissing 提示已输出，只需以非零状态退出。
var errGitMissing = errors.New("git is required")

// requireGit 作为 PreRunE，缺少 git 时输出安装提示。
func requireGit(cmd *cobra.Command, _ []string) error {
	if err := gptdbs.CheckGit(); err != nil {
		fmt.Fprintln(cmd.ErrOrStderr(), theme.Error.Render(gptdbs.GitInstallHint))
		return errGitMissing
	}
	return nil
}

type workspace struct {
	manager  *gptdbs.Manager
	defaults []*gptdbs.Repo
}

func loadWorkspace(cmd *cobra.Command) (*workspace, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}
	ws := &workspace{manager: gptdbs.NewManager(cfg.Home, gptdbs.WithOutput(cmd.OutOrStdout()))}
	for _, r := range cfg.Repos {
		ws.defaults = append(ws.defaults, &gptdbs.Repo{Name: r.Name, URL: r.URL, Branch: r.Branch})
	}
	return ws, nil
}

func appCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "app",
		Short: "Manage your apps(gptdbs)",
	}
	c.AddCommand(installCmd(), uninstallCmd(), listRemoteCmd(), listInstalledCmd())
	return c
}

func installCmd() *cobra.Command {
	var (
		repo   string
		update bool
	)

	cmd := &cobra.Command{
		Use:     "install [names...]",
		Short:   "Install your gptdbs(operators,agents,workflows or apps)",
		Args:    cobra.MinimumNArgs(1),
		PreRunE: requireGit,
		RunE: func(cmd *cobra.Command, names []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if err = ws.manager.EnsureDefaultRepos(ctx, ws.defaults); err != nil {
				return err
			}
			for i, name := range names {
				p, err := ws.manager.Install(ctx, name, repo, update && i == 0)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme.Success.Render(
					fmt.Sprintf("Installed %s '%s' from %s", p.Type, p.Name, p.Repo)))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&repo, "repo", "r", "", "The repository to install the gptdbs from")
	cmd.Flags().BoolVarP(&update, "update", "U", false, "Whether to update the repo")
	return cmd
}

func uninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall [names...]",
		Short: "Uninstall your gptdbs(operators,agents,workflows or apps)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, names []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			for _, name := range names {
				if err = ws.manager.Uninstall(name); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), theme.Success.Render(fmt.Sprintf("Uninstalled '%s'", name)))
			}
			return nil
		},
	}
}

func listRemoteCmd() *cobra.Command {
	var (
		repo   string
		update bool
	)

	cmd := &cobra.Command{
		Use:     "list-remote",
		Short:   "List all available gptdbs",
		PreRunE: requireGit,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			ctx := commandContext(cmd)
			if err = ws.manager.EnsureDefaultRepos(ctx, ws.defaults); err != nil {
				return err
			}
			pkgs, err := ws.manager.ListRemote(ctx, repo, update)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(pkgs))
			for _, p := range pkgs {
				rows = append(rows, []string{p.Repo, string(p.Type), p.Name, p.Label, p.Version})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable("Available gptdbs", []string{"Repository", "Type", "Name", "Label", "Version"}, rows))
			return nil
		},
	}

	cmd.Flags().StringVarP(&repo, "repo", "r", "", "The repository to list the gptdbs from")
	cmd.Flags().BoolVarP(&update, "update", "U", false, "Whether to update the repo")
	return cmd
}

func listInstalledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all installed gptdbs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			pkgs, err := ws.manager.ListInstalled()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(pkgs))
			for _, p := range pkgs {
				rows = append(rows, []string{p.Name, string(p.Type), p.Repo, p.Version, p.Path})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable("Installed gptdbs", []string{"Name", "Type", "Repository", "Version", "Path"}, rows))
			return nil
		},
	}
}
