package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"minutes/internal/api"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatStatusLabel(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return ""
	}
	parts := strings.Split(status, "_")
	for i, part := range parts {
		lower := strings.ToLower(part)
		if lower == "" {
			continue
		}
		parts[i] = strings.ToUpper(lower[:1]) + lower[1:]
	}
	return strings.Join(parts, " ")
}

func formatDisplayTime(value string) string {
	t := api.ParseTime(value)
	if t.IsZero() {
		return strings.TrimSpace(value)
	}
	return t.Local().Format("2006-01-02 15:04")
}

func formatDuration(seconds float64) string {
	if seconds <= 0 {
		return "-"
	}
	d := time.Duration(seconds * float64(time.Second)).Round(time.Second)
	return d.String()
}

func formatProgress(job api.JobView) string {
	if job.Progress.Message == "" {
		return fmt.Sprintf("%d%%", job.Progress.Percent)
	}
	return fmt.Sprintf("%d%% %s", job.Progress.Percent, job.Progress.Message)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func buildJobRows(list []api.JobView) [][]string {
	rows := make([][]string, 0, len(list))
	for _, job := range list {
		template := job.Template
		if job.ResolvedTemplate != "" && job.ResolvedTemplate != job.Template {
			template = fmt.Sprintf("%s (%s)", job.Template, job.ResolvedTemplate)
		}
		rows = append(rows, []string{
			job.ID,
			job.Filename,
			formatStatusLabel(job.Status),
			fmt.Sprintf("%d%%", job.Progress.Percent),
			template,
			formatDisplayTime(job.CreatedAt),
		})
	}
	return rows
}

func buildPublicationRows(list []api.PublicationView) [][]string {
	rows := make([][]string, 0, len(list))
	for _, pub := range list {
		target := pub.PageURL
		if target == "" {
			target = pub.Error
		}
		rows = append(rows, []string{
			fmt.Sprintf("%d", pub.ID),
			formatStatusLabel(pub.Status),
			pub.Title,
			fmt.Sprintf("%d", pub.RetryCount),
			target,
		})
	}
	return rows
}

func jobDetailLines(job api.JobView) []string {
	lines := []string{
		fmt.Sprintf("ID:          %s", job.ID),
		fmt.Sprintf("File:        %s", job.Filename),
		fmt.Sprintf("Status:      %s", formatStatusLabel(job.Status)),
		fmt.Sprintf("Progress:    %s", formatProgress(job)),
	}
	template := job.Template
	if job.ResolvedTemplate != "" {
		template = fmt.Sprintf("%s -> %s", job.Template, job.ResolvedTemplate)
	}
	lines = append(lines, fmt.Sprintf("Template:    %s", template))
	if job.Attempt > 1 {
		lines = append(lines, fmt.Sprintf("Attempt:     %d", job.Attempt))
	}
	if job.MediaKind != "" {
		lines = append(lines, fmt.Sprintf("Media:       %s, %s, %d chunk(s)", job.MediaKind, formatDuration(job.DurationSeconds), job.ChunkCount))
	}
	lines = append(lines,
		fmt.Sprintf("Created:     %s", formatDisplayTime(job.CreatedAt)),
		fmt.Sprintf("Updated:     %s", formatDisplayTime(job.UpdatedAt)),
	)
	if job.CompletedAt != "" {
		lines = append(lines, fmt.Sprintf("Completed:   %s", formatDisplayTime(job.CompletedAt)))
	}
	lines = append(lines, fmt.Sprintf("Artifacts:   transcript=%s minutes=%s docx=%s", yesNo(job.HasTranscript), yesNo(job.HasMinutes), yesNo(job.HasDocx)))
	if job.PublishRequested {
		lines = append(lines, "Publish:     requested")
	}
	if job.CancelRequested {
		lines = append(lines, "Cancel:      requested")
	}
	if job.Error != "" {
		lines = append(lines, fmt.Sprintf("Error:       %s", job.Error))
	}
	if pub := job.Publication; pub != nil {
		detail := formatStatusLabel(pub.Status)
		if pub.PageURL != "" {
			detail += " " + pub.PageURL
		}
		if pub.Error != "" {
			detail += " (" + pub.Error + ")"
		}
		lines = append(lines, fmt.Sprintf("Publication: #%d %s", pub.ID, detail))
	}
	return lines
}
