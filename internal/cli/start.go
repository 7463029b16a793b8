package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/favbox/gptdb/app"
	"github.com/favbox/gptdb/config"
)

func startCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Start specified server",
	}
	c.AddCommand(webserverCmd())
	return c
}

func webserverCmd() *cobra.Command {
	var cfgPath string

	cmd := &cobra.Command{
		Use:   "webserver",
		Short: "Start the webserver",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			return app.NewServer(a, cfg.Server).Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Path to the YAML configuration file")
	return cmd
}

// commandContext cobra 未设置上下文时返回 Background。
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
