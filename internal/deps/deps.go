package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"minutes/internal/config"
)

// Requirement defines an external binary the daemon relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// MediaRequirements lists the binaries used to inspect and split recordings.
func MediaRequirements(cfg *config.Config) []Requirement {
	ffmpeg, ffprobe := "ffmpeg", "ffprobe"
	if cfg != nil {
		if v := strings.TrimSpace(cfg.Media.FFmpegBinary); v != "" {
			ffmpeg = v
		}
		if v := strings.TrimSpace(cfg.Media.FFprobeBinary); v != "" {
			ffprobe = v
		}
	}
	return []Requirement{
		{Name: "FFmpeg", Command: ffmpeg, Description: "Converts recordings and splits them into chunks"},
		{Name: "FFprobe", Command: ffprobe, Description: "Reads recording duration and streams"},
	}
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		if _, err := exec.LookPath(cmd); err != nil {
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Available = true
		results = append(results, status)
	}
	return results
}
