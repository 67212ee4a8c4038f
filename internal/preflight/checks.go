package preflight

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"minutes/internal/config"
)

// CheckDirectoryAccess verifies that path exists, is a directory, and is
// readable, writable and traversable by the current process.
func CheckDirectoryAccess(name, path string) Result {
	if strings.TrimSpace(path) == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckCredential reports whether a secret is set without echoing it.
func CheckCredential(name, value string, optional bool) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Name: name, Optional: optional, Detail: "not set"}
	}
	return Result{Name: name, Optional: optional, Passed: true, Detail: "configured"}
}

// CheckPublication verifies the wiki target is complete enough to publish.
func CheckPublication(cfg *config.Config) Result {
	const name = "Wiki publication"
	var missing []string
	if strings.TrimSpace(cfg.Publication.BaseURL) == "" {
		missing = append(missing, "base_url")
	}
	if strings.TrimSpace(cfg.Publication.APIToken) == "" {
		missing = append(missing, "api_token")
	}
	if strings.TrimSpace(cfg.Publication.SpaceKey) == "" {
		missing = append(missing, "space_key")
	}
	if len(missing) > 0 {
		return Result{Name: name, Optional: true, Detail: "missing publication." + strings.Join(missing, ", publication.")}
	}
	return Result{Name: name, Optional: true, Passed: true, Detail: fmt.Sprintf("%s (space %s)", cfg.Publication.BaseURL, cfg.Publication.SpaceKey)}
}
