package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"minutes/internal/api"
	"minutes/internal/ipc"
	"minutes/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:     "jobs",
		Aliases: []string{"job"},
		Short:   "Inspect and manage your jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	jobsCmd.AddCommand(newJobsCancelCommand(ctx))
	jobsCmd.AddCommand(newJobsRetryCommand(ctx))
	jobsCmd.AddCommand(newJobsRemoveCommand(ctx))
	jobsCmd.AddCommand(newJobsWatchCommand(ctx))
	jobsCmd.AddCommand(newJobsArtifactCommand(ctx, "transcript", "Print the transcript of a job"))
	jobsCmd.AddCommand(newJobsArtifactCommand(ctx, "minutes", "Print the generated minutes of a job"))
	jobsCmd.AddCommand(newJobsExportCommand(ctx))
	jobsCmd.AddCommand(newPublicationsCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if status != "" {
				if _, ok := jobs.ParseStatus(status); !ok {
					return fmt.Errorf("unknown status %q (valid: %s)", status, statusNames())
				}
			}
			return ctx.withClient(func(client *ipc.Client) error {
				list, err := client.ListJobs(cmd.Context(), status)
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, list)
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "File", "Status", "Progress", "Template", "Created"},
					buildJobRows(list),
					3,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "Only list jobs in this status")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJob(cmd, ctx, *job)
			})
		},
	}
}

func newJobsCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.CancelJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				if job.Status == string(jobs.StatusCancelled) {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %s cancelled\n", job.ID)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s (%s)\n", job.ID, formatStatusLabel(job.Status))
				}
				return nil
			})
		},
	}
}

func newJobsRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Requeue a failed job from its original upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.RetryJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s requeued (attempt %d)\n", job.ID, job.Attempt)
				return nil
			})
		},
	}
}

func newJobsRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <job-id>",
		Aliases: []string{"rm"},
		Short:   "Delete a settled job and its files",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				job, err := client.RemoveJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, job)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %s\n", job.ID)
				return nil
			})
		},
	}
}

func newJobsWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Follow a job until it settles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				return watchJob(cmd, ctx, client, args[0])
			})
		},
	}
}

func newJobsArtifactCommand(ctx *commandContext, artifact, short string) *cobra.Command {
	return &cobra.Command{
		Use:   artifact + " <job-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				fetch := client.Minutes
				if artifact == "transcript" {
					fetch = client.Transcript
				}
				data, err := fetch(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if _, err := out.Write(data); err != nil {
					return err
				}
				if len(data) > 0 && data[len(data)-1] != '\n' {
					fmt.Fprintln(out)
				}
				return nil
			})
		},
	}
}

func newJobsExportCommand(ctx *commandContext) *cobra.Command {
	var (
		output     string
		transcript bool
	)
	cmd := &cobra.Command{
		Use:   "export <job-id>",
		Short: "Download the minutes (or transcript) as a DOCX document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := "minutes"
			if transcript {
				prefix = "transcript"
			}
			target := strings.TrimSpace(output)
			if target == "" {
				target = fmt.Sprintf("%s-%s.docx", prefix, shortID(args[0]))
			}
			return ctx.withClient(func(client *ipc.Client) error {
				file, err := os.Create(target)
				if err != nil {
					return fmt.Errorf("create %s: %w", target, err)
				}
				download := client.ExportDocx
				if transcript {
					download = client.ExportTranscriptDocx
				}
				n, err := download(cmd.Context(), args[0], file)
				closeErr := file.Close()
				if err != nil {
					_ = os.Remove(target)
					return err
				}
				if closeErr != nil {
					return closeErr
				}
				abs, _ := filepath.Abs(target)
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d bytes)\n", abs, n)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to <kind>-<id>.docx)")
	cmd.Flags().BoolVar(&transcript, "transcript", false, "Export the speaker-attributed transcript instead of the minutes")
	return cmd
}

func statusNames() string {
	all := jobs.AllStatuses()
	names := make([]string, len(all))
	for i, status := range all {
		names[i] = string(status)
	}
	return strings.Join(names, ", ")
}

func printJob(cmd *cobra.Command, ctx *commandContext, job api.JobView) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, job)
	}
	out := cmd.OutOrStdout()
	for _, line := range jobDetailLines(job) {
		fmt.Fprintln(out, line)
	}
	return nil
}

// watchJob prints one progress line per update and reports failure as an
// error so scripts can check the exit code.
func watchJob(cmd *cobra.Command, ctx *commandContext, client *ipc.Client, jobID string) error {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	var last api.JobView
	err := client.Watch(cmd.Context(), jobID, func(view api.JobView) {
		last = view
		if ctx.jsonOutput() {
			_ = writeJSON(cmd, view)
			return
		}
		fmt.Fprintln(out, renderStatusLine(shortID(view.ID), jobStatusKind(view.Status), formatStatusLabel(view.Status)+" "+formatProgress(view), colorize))
	})
	if err != nil {
		return err
	}
	switch last.Status {
	case string(jobs.StatusError):
		return errors.New("job failed: " + last.Error)
	case string(jobs.StatusPublishFailed):
		msg := "publication failed"
		if last.Publication != nil && last.Publication.Error != "" {
			msg += ": " + last.Publication.Error
		}
		return errors.New(msg)
	}
	return nil
}
