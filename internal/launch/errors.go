package launch

import (
	"errors"
	"fmt"
)

// Error kinds, one per failing stage. Match with errors.Is.
var (
	ErrPathResolution  = errors.New("path resolution failed")
	ErrBackendMissing  = errors.New("backend executable missing")
	ErrLogFileCreation = errors.New("log file creation failed")
	ErrSpawn           = errors.New("spawn failed")
	ErrReadiness       = errors.New("backend not ready")
)

// Error is a launch failure tagged with the stage that produced it. It
// unwraps to both the stage's kind and the underlying OS error, so
// errors.Is(err, ErrBackendMissing) and errors.Is(err, fs.ErrNotExist)
// both hold for a missing backend.
type Error struct {
	Stage Stage
	// Path is the file or directory the stage was working on.
	Path string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Stage, e.Kind())
	if e.Path != "" {
		msg += ": " + e.Path
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Kind returns the sentinel error for the stage.
func (e *Error) Kind() error {
	switch e.Stage {
	case StageResolve:
		return ErrPathResolution
	case StageCheck:
		return ErrBackendMissing
	case StageLogs:
		return ErrLogFileCreation
	case StageSpawn:
		return ErrSpawn
	case StageReady:
		return ErrReadiness
	default:
		return errors.New(string(e.Stage) + " failed")
	}
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind()}
	}
	return []error{e.Kind(), e.Err}
}

func stageError(stage Stage, path string, err error) *Error {
	return &Error{Stage: stage, Path: path, Err: err}
}
