package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/favbox/gptdb/util/gptdbs"
)

func repoCmd() *cobra.Command {
	c := &cobra.Command{
		Use:               "repo",
		Short:             "The repository to install the gptdbs from",
		PersistentPreRunE: requireGit,
	}
	c.AddCommand(repoAddCmd(), repoRemoveCmd(), repoUpdateCmd(), repoListCmd())
	return c
}

func repoAddCmd() *cobra.Command {
	var name, branch, url string

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new repo",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			r, err := ws.manager.AddRepo(commandContext(cmd), name, url, branch)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.Success.Render(fmt.Sprintf("Repo '%s' added to %s", r.Name, r.Path)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "repo", "r", "", "The name of the repo, in <org>/<name> form")
	cmd.Flags().StringVarP(&branch, "branch", "b", "", "The branch of the repository(Just for git repo)")
	cmd.Flags().StringVar(&url, "url", "", "The URL of the repo")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("url")
	return cmd
}

func repoRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <repo>",
		Short: "Remove the specified repo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			if err = ws.manager.RemoveRepo(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.Success.Render(fmt.Sprintf("Repo '%s' removed", args[0])))
			return nil
		},
	}
}

func repoUpdateCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update the specified repo",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			return ws.manager.UpdateRepos(commandContext(cmd), name)
		},
	}

	cmd.Flags().StringVarP(&name, "repo", "r", "", "The repository to update(Default: all repos)")
	return cmd
}

func repoListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all repos",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ws, err := loadWorkspace(cmd)
			if err != nil {
				return err
			}
			repos, err := ws.manager.ListRepos()
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRepos(repos))
			return nil
		},
	}
}

func renderRepos(repos []*gptdbs.Repo) string {
	rows := make([][]string, 0, len(repos))
	for _, r := range repos {
		rows = append(rows, []string{r.Name, r.URL, r.Branch, r.Path})
	}
	return renderTable("Repositories", []string{"Repository", "URL", "Branch", "Path"}, rows)
}
