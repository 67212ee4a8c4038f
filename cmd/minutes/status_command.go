package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"minutes/internal/api"
	"minutes/internal/ipc"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon, workflow and dependency status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				status, err := client.Status(cmd.Context())
				if err != nil {
					return err
				}
				health, healthErr := client.Health(cmd.Context())
				var apiErr *ipc.APIError
				if healthErr != nil && !errors.As(healthErr, &apiErr) {
					return healthErr
				}
				if ctx.jsonOutput() {
					return writeJSON(cmd, struct {
						Status *api.DaemonStatus   `json:"status"`
						Health *api.HealthResponse `json:"health,omitempty"`
					}{status, health})
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, strings.Join(statusLines(status, health, shouldColorize(out)), "\n")+"\n")
				return nil
			})
		},
	}
}

func statusLines(status *api.DaemonStatus, health *api.HealthResponse, colorize bool) []string {
	lines := renderSectionHeader("Daemon", colorize)
	if status.Running {
		lines = append(lines, renderStatusLine("Minutes", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
	} else {
		lines = append(lines, renderStatusLine("Minutes", statusWarn, "Serving API, workflow stopped", colorize))
	}
	wf := status.Workflow
	lines = append(lines, renderStatusLine("Workers", statusInfo, fmt.Sprintf("%d active of %d", len(wf.Active), wf.Workers), colorize))
	if wf.PublicationEnabled {
		lines = append(lines, renderStatusLine("Publication", statusOK, "Enabled", colorize))
	} else {
		lines = append(lines, renderStatusLine("Publication", statusWarn, "Not configured", colorize))
	}
	if wf.LastError != "" {
		lines = append(lines, renderStatusLine("Last error", statusError, wf.LastError, colorize))
	}
	lines = append(lines, databaseLine(status.DatabasePath, health, colorize))

	lines = append(lines, "")
	lines = append(lines, renderSectionHeader("Jobs", colorize)...)
	s := wf.Stats
	lines = append(lines,
		renderStatusLine("Queued", statusInfo, fmt.Sprintf("%d", s.Queued), colorize),
		renderStatusLine("Processing", statusInfo, fmt.Sprintf("%d", s.Active), colorize),
		renderStatusLine("Completed", statusOK, fmt.Sprintf("%d", s.Completed), colorize),
		renderStatusLine("Published", statusOK, fmt.Sprintf("%d", s.Published), colorize),
	)
	failedKind := statusOK
	if s.Failed > 0 {
		failedKind = statusError
	}
	lines = append(lines, renderStatusLine("Failed", failedKind, fmt.Sprintf("%d", s.Failed), colorize))

	if len(status.Checks) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Checks", colorize)...)
		lines = append(lines, checkLines(status.Checks, colorize)...)
	}
	if len(status.Dependencies) > 0 {
		lines = append(lines, "")
		lines = append(lines, renderSectionHeader("Dependencies", colorize)...)
		lines = append(lines, dependencyLines(status.Dependencies, colorize)...)
	}
	return lines
}

func databaseLine(path string, health *api.HealthResponse, colorize bool) string {
	if health == nil {
		return renderStatusLine("Database", statusInfo, path, colorize)
	}
	if health.Status == "ok" {
		return renderStatusLine("Database", statusOK, fmt.Sprintf("%s (schema v%d)", path, health.SchemaVersion), colorize)
	}
	detail := health.Error
	if detail == "" && len(health.MissingTables) > 0 {
		detail = "missing tables: " + strings.Join(health.MissingTables, ", ")
	}
	if detail == "" {
		detail = "integrity check failed"
	}
	return renderStatusLine("Database", statusError, detail, colorize)
}

func checkLines(checks []api.CheckView, colorize bool) []string {
	lines := make([]string, 0, len(checks))
	for _, check := range checks {
		kind := statusOK
		if !check.Passed {
			kind = statusError
			if check.Optional {
				kind = statusWarn
			}
		}
		lines = append(lines, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}
	return lines
}
