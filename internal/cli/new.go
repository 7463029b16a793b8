package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/favbox/gptdb/util/gptdbs"
)

func newCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "new",
		Short: "New a gptdbs module structure",
	}
	c.AddCommand(newAppCmd())
	return c
}

func newAppCmd() *cobra.Command {
	var opts gptdbs.NewOptions

	types := make([]string, 0, len(gptdbs.PackageTypes))
	for _, t := range gptdbs.PackageTypes {
		types = append(types, string(t))
	}

	cmd := &cobra.Command{
		Use:   "app",
		Short: "New a gptdbs package",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := gptdbs.New(opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), theme.Success.Render(fmt.Sprintf("Created %s package '%s' at %s", opts.Type, opts.Name, dir)))
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.Name, "name", "n", "", "The name you want to give to the gptdb")
	f.StringVarP(&opts.Label, "label", "l", "", "The label of the gptdb (default: title-cased name)")
	f.StringVarP(&opts.Description, "description", "d", "", "The description of the gptdb")
	f.StringVarP(&opts.Type, "type", "t", string(gptdbs.TypeFlow), "The type of the gptdb: "+strings.Join(types, ", "))
	f.StringVar(&opts.DefinitionType, "definition_type", "json", "The definition type of the gptdb")
	f.StringVarP(&opts.Dir, "directory", "C", "", "The working directory of the gptdb(defaults to the current directory)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}
