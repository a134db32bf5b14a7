// Package launch implements the process supervisor: it resolves the
// bundled backend, checks it, prepares its log files, spawns it and waits
// until it is ready. Every attempt yields exactly one Result and is never
// retried internally.
package launch

import (
	"fmt"
	"time"
)

// Stage identifies one step of a launch attempt.
type Stage string

const (
	StageResolve Stage = "resolve"
	StageCheck   Stage = "check"
	StageReplace Stage = "replace"
	StageLogs    Stage = "logs"
	StagePerm    Stage = "perm"
	StageSpawn   Stage = "spawn"
	StageReady   Stage = "ready"
	StageExit    Stage = "exit"
)

// Log file names inside the logs directory.
const (
	StdoutLogName = "backend.log"
	StderrLogName = "backend_error.log"
)

// Request is the resolved input of one spawn.
type Request struct {
	BackendPath string
	ResourceDir string
	LogsDir     string
	Args        []string
	// Env holds extra KEY=VALUE pairs on top of the inherited environment.
	Env []string
}

// Result is the outcome of one attempt. Err is nil on success; otherwise
// the success fields hold whatever was known when the attempt stopped.
type Result struct {
	AttemptID   string        `json:"attempt"`
	PID         int           `json:"pid,omitempty"`
	BackendPath string        `json:"backend_path,omitempty"`
	ResourceDir string        `json:"resource_dir,omitempty"`
	LogsDir     string        `json:"logs_dir,omitempty"`
	StdoutLog   string        `json:"stdout_log,omitempty"`
	StderrLog   string        `json:"stderr_log,omitempty"`
	Probe       string        `json:"probe,omitempty"`
	ReadyStatus string        `json:"ready_status,omitempty"`
	Started     time.Time     `json:"started"`
	Elapsed     time.Duration `json:"elapsed"`
	Err         *Error        `json:"-"`
}

// OK reports whether the attempt succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Stage returns the failing stage, or "" on success.
func (r Result) Stage() Stage {
	if r.Err == nil {
		return ""
	}
	return r.Err.Stage
}

// String is the human-readable status handed to the UI layer.
func (r Result) String() string {
	if r.Err != nil {
		return fmt.Sprintf("Failed to start backend at %s stage: %v", r.Err.Stage, r.Err)
	}
	return fmt.Sprintf("Backend started (pid %d): %s; logs in %s", r.PID, r.BackendPath, r.LogsDir)
}

// ChildStatus describes the backend process currently owned by the supervisor.
type ChildStatus struct {
	AttemptID   string    `json:"attempt"`
	PID         int       `json:"pid"`
	BackendPath string    `json:"backend_path"`
	Started     time.Time `json:"started"`
	Running     bool      `json:"running"`
	ExitCode    *int      `json:"exit_code,omitempty"`
}
