package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"minutes/internal/ipc"
)

func newTemplatesCommand(ctx *commandContext) *cobra.Command {
	templatesCmd := &cobra.Command{
		Use:   "templates",
		Short: "Inspect the minutes template catalog",
	}
	templatesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List available templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				list, err := client.Templates(cmd.Context())
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				rows := make([][]string, 0, len(list))
				for _, tpl := range list {
					rows = append(rows, []string{tpl.Name, tpl.DisplayName, tpl.Description, strings.Join(tpl.Keywords, ", ")})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Name", "Display Name", "Description", "Keywords"}, rows))
				return nil
			})
		},
	})
	return templatesCmd
}
