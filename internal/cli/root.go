// Package cli gptdb 命令行。
package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/MakeNowJust/heredoc/v2"
	"github.com/spf13/cobra"
)

// Execute 执行命令，出错时以状态码 1 退出。
func Execute() {
	cmd := newRootCmd()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, errGitMissing) {
			fmt.Fprintln(os.Stderr, theme.Error.Render("Error: "+err.Error()))
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gptdb",
		Short: "GPT-DB command line",
		Long: heredoc.Doc(`
			GPT-DB command line.

			Start the webserver, manage gptdbs repositories and install
			community flows, operators, agents and apps.
		`),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(startCmd(), appCmd(), repoCmd(), newCmd())
	return cmd
}
