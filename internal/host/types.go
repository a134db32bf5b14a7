package host

import (
	"context"
	"net"

	"github.com/mbrock/hostshim/internal/launch"
)

// Service is a control surface served while the host runs.
type Service interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// Controller is what the UI layer can ask of the host. Host implements it;
// the control server depends only on this.
type Controller interface {
	// StartBackend runs one launch attempt and returns a status string,
	// or an error describing the failing stage.
	StartBackend(ctx context.Context) (string, error)

	// ExitApp terminates the host with exit code 0.
	ExitApp()

	// Status reports the owned child and the most recent attempt.
	Status() Status
}

// Status is a snapshot of the host.
type Status struct {
	AppName  string              `json:"app"`
	HostDir  string              `json:"host_dir"`
	LogsDir  string              `json:"logs_dir"`
	OnExit   string              `json:"on_exit"`
	Child    *launch.ChildStatus `json:"child,omitempty"`
	Last     *launch.Result      `json:"last,omitempty"`
	LastErr  string              `json:"last_error,omitempty"`
	Attempts int                 `json:"attempts"`
}
