// Package dirs provides standard directory resolution for hostshim.
// Everything is anchored at the directory holding the host executable so
// that logs stay next to the installed application and are easy to find.
package dirs

import (
	"fmt"
	"os"
	"path/filepath"
)

// LogsDirName is the directory created next to the host executable.
const LogsDirName = "logs"

// executable is swapped out by tests.
var executable = os.Executable

// HostDir returns the directory containing the running host executable.
// Priority: $HOSTSHIM_HOST_DIR > dir(os.Executable) with symlinks resolved.
func HostDir() (string, error) {
	if v := os.Getenv("HOSTSHIM_HOST_DIR"); v != "" {
		return filepath.Abs(v)
	}
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("locating host executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// LogsDir returns the logs directory for a host directory.
func LogsDir(hostDir string) string {
	return filepath.Join(hostDir, LogsDirName)
}

// ConfigPath returns the config file to load, or "" when none exists.
// Priority: $HOSTSHIM_CONFIG > <hostDir>/hostshim.{yaml,yml,jsonc,json}
// > $XDG_CONFIG_HOME/hostshim/config.yaml > ~/.config/hostshim/config.yaml
func ConfigPath(hostDir string) string {
	if v := os.Getenv("HOSTSHIM_CONFIG"); v != "" {
		return v
	}

	var candidates []string
	for _, ext := range []string{".yaml", ".yml", ".jsonc", ".json"} {
		candidates = append(candidates, filepath.Join(hostDir, "hostshim"+ext))
	}
	if base := os.Getenv("XDG_CONFIG_HOME"); base != "" {
		candidates = append(candidates, filepath.Join(base, "hostshim", "config.yaml"))
	} else if home := os.Getenv("HOME"); home != "" {
		candidates = append(candidates, filepath.Join(home, ".config", "hostshim", "config.yaml"))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
