//go:build unix

package launch

import "golang.org/x/sys/unix"

// permApplies reports whether execute bits exist on this platform.
const permApplies = true

// ensureExecutable adds the execute bits when the file lacks them, the way
// `chmod +x` would. It reports whether the mode was changed.
func ensureExecutable(path string) (bool, error) {
	if unix.Access(path, unix.X_OK) == nil {
		return false, nil
	}
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, err
	}
	if err := unix.Chmod(path, uint32(st.Mode&0o7777)|0o111); err != nil {
		return false, err
	}
	return true, nil
}
