// Package resource resolves files shipped inside the application bundle.
package resource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

var (
	// ErrNoResourceDir is returned when none of the candidate directories exist.
	ErrNoResourceDir = errors.New("no resource directory found")
	// ErrInvalidName is returned for names that are empty or escape the resource directory.
	ErrInvalidName = errors.New("invalid resource name")
)

// Locator finds bundled resources in a prioritized list of directories.
type Locator struct {
	Dirs []string
}

// NewLocator returns a Locator for the given configuration. An explicit
// resource directory wins outright; otherwise the usual bundle layouts
// around the host executable are tried in order:
//
//	<host>/resources      (Linux/Windows archives)
//	<host>                (resources next to the executable)
//	<host>/../Resources   (macOS .app bundles)
func NewLocator(hostDir, resourceDir string) *Locator {
	if resourceDir != "" {
		return &Locator{Dirs: []string{resourceDir}}
	}
	return &Locator{Dirs: []string{
		filepath.Join(hostDir, "resources"),
		hostDir,
		filepath.Join(hostDir, "..", "Resources"),
	}}
}

// Dir returns the first candidate directory that exists, as an absolute path.
func (l *Locator) Dir() (string, error) {
	for _, dir := range l.Dirs {
		if dir == "" {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return filepath.Abs(dir)
		}
	}
	return "", fmt.Errorf("%w (tried %s)", ErrNoResourceDir, strings.Join(l.Dirs, ", "))
}

// Resolve maps a resource name to an absolute path inside the resource
// directory. It does not check that the file exists.
func (l *Locator) Resolve(name string) (path, dir string, err error) {
	name = ExecutableName(name)
	if name == "" || !filepath.IsLocal(name) {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	dir, err = l.Dir()
	if err != nil {
		return "", "", err
	}
	return filepath.Join(dir, name), dir, nil
}

// ExecutableName appends ".exe" on Windows when name has no extension.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" && name != "" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}
