package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"minutes/internal/config"
	"minutes/internal/ipc"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var opts ipc.SubmitOptions
	var wait bool
	cmd := &cobra.Command{
		Use:   "submit <recording>",
		Short: "Upload a recording and queue it for minutes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.ExpandPath(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.Submit(cmd.Context(), path, opts)
				if err != nil {
					return err
				}
				if !wait {
					if ctx.jsonOutput() {
						return writeJSON(cmd, job)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s for %s (template %s)\n", job.ID, job.Filename, job.Template)
					return nil
				}
				if !ctx.jsonOutput() {
					fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s, following progress...\n", job.ID)
				}
				return watchJob(cmd, ctx, client, job.ID)
			})
		},
	}
	cmd.Flags().StringVarP(&opts.Template, "template", "t", "", "Template name, or auto to detect from the transcript")
	cmd.Flags().BoolVarP(&opts.Publish, "publish", "p", false, "Publish to the wiki once minutes are ready")
	cmd.Flags().StringVar(&opts.Filename, "name", "", "Record the upload under this file name")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Follow the job until it settles")
	return cmd
}
