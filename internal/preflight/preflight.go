package preflight

import (
	"minutes/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
	// Optional checks cover features that are off or have a fallback.
	Optional bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDirectoryAccess("Temp directory", cfg.Paths.TempDir),
	}
	if cfg.Intake.WatchDir != "" {
		results = append(results, CheckDirectoryAccess("Watch folder", cfg.Intake.WatchDir))
	}
	results = append(results, CheckCredential("Transcription API key", cfg.Transcription.APIKey, false))
	results = append(results, CheckCredential("Summary API key", cfg.Summary.APIKey, false))
	if cfg.Publication.Enabled {
		results = append(results, CheckPublication(cfg))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			failed = append(failed, r)
		}
	}
	return failed
}
