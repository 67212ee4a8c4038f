package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"minutes/internal/api"
	"minutes/internal/ipc"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <job-id>",
		Short: "Publish a completed job's minutes to the wiki",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				pub, err := client.Publish(cmd.Context(), args[0])
				return reportPublication(cmd, ctx, pub, err)
			})
		},
	}
}

func newRetryPublicationCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry-publication <publication-id>",
		Short: "Retry a failed wiki publication",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid publication id %q", args[0])
			}
			return ctx.withClient(func(client *ipc.Client) error {
				pub, err := client.RetryPublication(cmd.Context(), id)
				return reportPublication(cmd, ctx, pub, err)
			})
		},
	}
}

func newPublicationsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "publications <job-id>",
		Short: "List publication attempts for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				list, err := client.ListPublications(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No publications")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Title", "Retries", "Page / Error"},
					buildPublicationRows(list),
					0, 3,
				))
				return nil
			})
		},
	}
}

// reportPublication prints the stored record even when the attempt failed so
// the user learns the id to retry.
func reportPublication(cmd *cobra.Command, ctx *commandContext, pub *api.PublicationView, err error) error {
	if pub == nil {
		return err
	}
	if ctx.jsonOutput() {
		if encErr := writeJSON(cmd, pub); encErr != nil {
			return encErr
		}
		return err
	}
	out := cmd.OutOrStdout()
	if err != nil {
		fmt.Fprintf(out, "Publication #%d failed (retry with `minutes retry-publication %d`)\n", pub.ID, pub.ID)
		return err
	}
	fmt.Fprintf(out, "Published %q as page %s\n", pub.Title, pub.PageID)
	if pub.PageURL != "" {
		fmt.Fprintln(out, pub.PageURL)
	}
	return nil
}
