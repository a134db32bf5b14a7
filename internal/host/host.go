// Package host is the invocation surface of the shim: it owns the
// supervisor, presents launch outcomes and decides what happens to the
// backend when the app exits.
package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/mbrock/hostshim/internal/config"
	"github.com/mbrock/hostshim/internal/launch"
	"github.com/mbrock/hostshim/internal/present"
	"github.com/mbrock/hostshim/internal/trace"
)

// Host runs the shim for one app session.
type Host struct {
	cfg       *config.Config
	sup       *launch.Supervisor
	trace     trace.Sink
	presenter present.Presenter
	logger    *slog.Logger
	exit      func(code int)
	notify    func(state string) error

	svc Service
	ln  net.Listener

	mu       sync.Mutex
	last     *launch.Result
	attempts int
	running  bool

	quit     chan struct{}
	quitOnce sync.Once
	stopped  chan struct{}
	downOnce sync.Once
}

// HostConfig holds the configuration for creating a Host.
type HostConfig struct {
	Config     *config.Config
	Supervisor *launch.Supervisor
	// Trace is closed when the host shuts down.
	Trace     trace.Sink
	Presenter present.Presenter
	Logger    *slog.Logger
	// Exit ends the process. Defaults to os.Exit.
	Exit func(code int)
	// Notify sends a state string to the service manager. Defaults to
	// daemon.SdNotify, which is a no-op outside systemd.
	Notify func(state string) error
}

// NewHost creates a new Host with the given configuration.
func NewHost(cfg HostConfig) *Host {
	h := &Host{
		cfg:       cfg.Config,
		sup:       cfg.Supervisor,
		trace:     cfg.Trace,
		presenter: cfg.Presenter,
		logger:    cfg.Logger,
		exit:      cfg.Exit,
		notify:    cfg.Notify,
		quit:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	if h.cfg == nil {
		h.cfg = config.Default()
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.exit == nil {
		h.exit = os.Exit
	}
	if h.notify == nil {
		h.notify = func(state string) error {
			_, err := daemon.SdNotify(false, state)
			return err
		}
	}
	if h.sup == nil {
		sc := launch.FromConfig(h.cfg)
		sc.Trace = h.trace
		sc.Logger = h.logger
		h.sup = launch.New(sc)
	}
	return h
}

// SetControl registers a control surface to serve on ln while Run is active.
func (h *Host) SetControl(svc Service, ln net.Listener) {
	h.svc, h.ln = svc, ln
}

// StartBackend runs one launch attempt, presents the outcome and returns a
// status string. The error describes the failing stage.
func (h *Host) StartBackend(ctx context.Context) (string, error) {
	res := h.sup.StartBackend(ctx)

	h.mu.Lock()
	h.last = &res
	h.attempts++
	h.mu.Unlock()

	h.present(ctx, res)

	if !res.OK() {
		h.sdNotify("STATUS=" + res.String())
		return "", res.Err
	}
	h.sdNotify(daemon.SdNotifyReady + "\nSTATUS=" + res.String())
	return res.String(), nil
}

func (h *Host) present(ctx context.Context, res launch.Result) {
	if h.presenter == nil {
		return
	}
	// Presenting a failure still matters when the attempt was cancelled.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := h.presenter.Present(ctx, present.FromResult(res)); err != nil {
		h.logger.Warn("presenting launch outcome", "error", err)
	}
}

func (h *Host) sdNotify(state string) {
	if err := h.notify(state); err != nil {
		h.logger.Debug("notifying service manager", "error", err)
	}
}

// ExitApp applies the lifecycle policy to the backend and ends the process
// with exit code 0. When Run is active it does the cleanup first.
func (h *Host) ExitApp() {
	h.logger.Info("exit requested", "on_exit", h.cfg.Lifecycle.OnExit)
	h.quitOnce.Do(func() { close(h.quit) })

	h.mu.Lock()
	running := h.running
	h.mu.Unlock()

	if running {
		<-h.stopped
	} else {
		h.shutdown()
	}
	h.exit(0)
}

// Status reports the owned child and the most recent attempt.
func (h *Host) Status() Status {
	st := Status{
		AppName: h.cfg.Present.AppName,
		HostDir: h.cfg.Paths.HostDir,
		LogsDir: h.cfg.Paths.LogsDir,
		OnExit:  h.cfg.Lifecycle.OnExit,
	}
	if c, ok := h.sup.Status(); ok {
		st.Child = &c
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	st.Attempts = h.attempts
	if h.last != nil {
		last := *h.last
		st.Last = &last
		if last.Err != nil {
			st.LastErr = last.String()
		}
	}
	return st
}

// Run serves the control surface, optionally starts the backend, and
// blocks until a signal, ExitApp, ctx cancellation or a server failure.
// The lifecycle policy is applied before it returns.
func (h *Host) Run(ctx context.Context) error {
	h.mu.Lock()
	h.running = true
	h.mu.Unlock()
	defer close(h.stopped)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-h.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	serveErr := make(chan error, 1)
	if h.svc != nil && h.ln != nil {
		h.logger.Info("control server listening", "addr", h.ln.Addr().String())
		go func() {
			if err := h.svc.Serve(h.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- err
			}
		}()
	}

	if h.cfg.Backend.AutoStart {
		go func() {
			if _, err := h.StartBackend(ctx); err != nil {
				h.logger.Error("auto-start failed", "error", err)
			}
		}()
	}

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
		err = fmt.Errorf("control server: %w", err)
	}

	h.sdNotify(daemon.SdNotifyStopping)
	if h.svc != nil {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		if serr := h.svc.Shutdown(sctx); serr != nil {
			h.logger.Warn("shutting down control server", "error", serr)
		}
		scancel()
	}
	h.shutdown()
	return err
}

// shutdown applies the lifecycle policy and closes the trace, once.
func (h *Host) shutdown() {
	h.downOnce.Do(func() {
		if err := h.sup.Shutdown(h.cfg.Lifecycle.OnExit); err != nil {
			h.logger.Error("stopping backend", "error", err)
		}
		if h.trace != nil {
			if err := h.trace.Close(); err != nil {
				h.logger.Warn("closing startup trace", "error", err)
			}
		}
		if c, ok := h.presenter.(interface{ Close() error }); ok {
			c.Close()
		}
	})
}

// OpenTrace builds the trace sink for a logs directory: the startup log
// file, journald when available, and hub. A file that cannot be opened is
// logged and skipped; the launch itself reports unwritable logs.
func OpenTrace(logsDir string, hub *trace.Hub, logger *slog.Logger) trace.Sink {
	var sinks trace.Multi
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		logger.Warn("creating logs dir for startup trace", "dir", logsDir, "error", err)
	} else if f, err := trace.OpenFile(filepath.Join(logsDir, trace.FileName)); err != nil {
		logger.Warn("opening startup trace", "error", err)
	} else {
		logger.Debug("writing startup trace", "path", f.Path())
		sinks = append(sinks, f)
	}
	if trace.JournalEnabled() {
		sinks = append(sinks, trace.Journal{})
	}
	if hub != nil {
		sinks = append(sinks, hub)
	}
	return sinks
}

// Presenters builds the presenter chain from configuration. A desktop
// presenter that cannot reach the session bus is logged and skipped.
func Presenters(cfg config.PresentConfig, logger *slog.Logger) present.Presenter {
	var ps present.Multi
	if cfg.Terminal {
		ps = append(ps, present.NewTerminal(os.Stderr))
	}
	if cfg.Desktop {
		d, err := present.NewDesktop(cfg.AppName)
		if err != nil {
			logger.Debug("desktop notifications unavailable", "error", err)
		} else {
			ps = append(ps, d)
		}
	}
	return ps
}
