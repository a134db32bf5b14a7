package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbrock/hostshim/internal/config"
	"github.com/mbrock/hostshim/internal/executor"
	"github.com/mbrock/hostshim/internal/readiness"
	"github.com/mbrock/hostshim/internal/resource"
	"github.com/mbrock/hostshim/internal/trace"
)

// Config wires a Supervisor. Zero values pick production defaults.
type Config struct {
	// BackendName is the resource name of the executable.
	BackendName string
	Args        []string
	// Env holds extra variables for the child.
	Env map[string]string

	// ResourceDirEnv and LogsDirEnv name the variables that tell the
	// child where its assets and logs live.
	ResourceDirEnv string
	LogsDirEnv     string

	Locator *resource.Locator
	LogsDir string

	Readiness config.ReadinessConfig

	// StopTimeout is the grace period between terminate and kill.
	StopTimeout time.Duration

	Executor executor.Executor
	Trace    trace.Sink
	Logger   *slog.Logger

	// Environ returns the inherited environment. Defaults to os.Environ.
	Environ func() []string
}

// FromConfig builds a supervisor Config from the file configuration.
func FromConfig(c *config.Config) Config {
	return Config{
		BackendName:    c.Backend.Name,
		Args:           c.Backend.Args,
		Env:            c.Backend.Env,
		ResourceDirEnv: c.Backend.ResourceDirEnv,
		LogsDirEnv:     c.Backend.LogsDirEnv,
		Locator:        resource.NewLocator(c.Paths.HostDir, c.Paths.ResourceDir),
		LogsDir:        c.Paths.LogsDir,
		Readiness:      c.Readiness,
		StopTimeout:    c.Lifecycle.StopTimeout,
	}
}

// child is the backend process owned by the supervisor.
type child struct {
	proc      executor.Process
	attemptID string
	path      string
	started   time.Time
}

func (c *child) running() bool {
	select {
	case <-c.proc.Done():
		return false
	default:
		return true
	}
}

// Supervisor launches and owns the backend process.
type Supervisor struct {
	cfg Config

	// attemptMu serialises StartBackend and Shutdown.
	attemptMu sync.Mutex

	// stopping is cancelled by Shutdown so an attempt still warming up
	// gives way instead of holding attemptMu until its probe times out.
	stopping context.Context
	stop     context.CancelFunc

	mu    sync.Mutex
	child *child
}

// New creates a Supervisor.
func New(cfg Config) *Supervisor {
	if cfg.Executor == nil {
		cfg.Executor = executor.Default()
	}
	if cfg.Trace == nil {
		cfg.Trace = trace.NewMemory()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Environ == nil {
		cfg.Environ = os.Environ
	}
	if cfg.ResourceDirEnv == "" {
		cfg.ResourceDirEnv = "HOSTSHIM_RESOURCE_DIR"
	}
	if cfg.LogsDirEnv == "" {
		cfg.LogsDirEnv = "HOSTSHIM_LOGS_DIR"
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	s := &Supervisor{cfg: cfg}
	s.stopping, s.stop = context.WithCancel(context.Background())
	return s
}

// makeExecutable is swapped out by tests.
var makeExecutable = ensureExecutable

// attempt records the trace of one StartBackend call.
type attempt struct {
	s  *Supervisor
	id string
}

func (a *attempt) record(stage Stage, status, msg string, fields map[string]string) {
	err := a.s.cfg.Trace.Write(trace.Entry{
		Time:    time.Now(),
		Attempt: a.id,
		Stage:   string(stage),
		Status:  status,
		Message: msg,
		Fields:  fields,
	})
	if err != nil {
		a.s.cfg.Logger.Warn("writing startup trace", "stage", stage, "error", err)
	}
}

func (a *attempt) fail(res *Result, e *Error) Result {
	fields := map[string]string{"error": e.Error()}
	if e.Path != "" {
		fields["path"] = e.Path
	}
	a.record(e.Stage, trace.StatusError, e.Kind().Error(), fields)
	a.s.cfg.Logger.Error("backend launch failed", "attempt", a.id, "stage", e.Stage, "error", e)
	res.Err = e
	res.Elapsed = time.Since(res.Started)
	return *res
}

// StartBackend runs one launch attempt: resolve, check, (replace), logs,
// perm, spawn, ready. Each executed stage adds one trace entry, in order.
// Nothing is retried; the caller decides whether to try again. Shutdown
// cancels an attempt that is still warming up.
func (s *Supervisor) StartBackend(ctx context.Context) Result {
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(s.stopping, cancel)()

	a := &attempt{s: s, id: uuid.NewString()}
	res := &Result{AttemptID: a.id, Started: time.Now(), LogsDir: s.cfg.LogsDir}
	log := s.cfg.Logger.With("attempt", a.id)

	// resolve
	if s.cfg.Locator == nil {
		return a.fail(res, stageError(StageResolve, "", errors.New("no resource locator configured")))
	}
	path, resourceDir, err := s.cfg.Locator.Resolve(s.cfg.BackendName)
	if err != nil {
		return a.fail(res, stageError(StageResolve, s.cfg.BackendName, err))
	}
	res.BackendPath, res.ResourceDir = path, resourceDir
	a.record(StageResolve, trace.StatusOK, "resolved backend path", map[string]string{"path": path, "resource_dir": resourceDir})

	// check
	info, err := os.Stat(path)
	if err != nil {
		return a.fail(res, stageError(StageCheck, path, err))
	}
	if !info.Mode().IsRegular() {
		return a.fail(res, stageError(StageCheck, path, fmt.Errorf("not a regular file (%s)", info.Mode().Type())))
	}
	a.record(StageCheck, trace.StatusOK, "backend exists", map[string]string{"path": path, "size": strconv.FormatInt(info.Size(), 10)})

	req := Request{
		BackendPath: path,
		ResourceDir: resourceDir,
		LogsDir:     s.cfg.LogsDir,
		Args:        s.cfg.Args,
	}

	probe, err := readiness.New(s.cfg.Readiness, "")
	if err != nil {
		return a.fail(res, stageError(StageSpawn, "", fmt.Errorf("preparing readiness probe: %w", err)))
	}
	if c, ok := probe.(io.Closer); ok {
		defer c.Close()
	}

	// replace
	if prev := s.current(); prev != nil && prev.running() {
		s.stopChild(prev)
		a.record(StageReplace, trace.StatusInfo, "stopped previous backend", map[string]string{
			"pid":     strconv.Itoa(prev.proc.Pid()),
			"attempt": prev.attemptID,
		})
	}

	// logs
	if req.LogsDir == "" {
		return a.fail(res, stageError(StageLogs, "", errors.New("no logs directory configured")))
	}
	sink, err := OpenLogSink(req.LogsDir)
	if err != nil {
		return a.fail(res, stageError(StageLogs, req.LogsDir, err))
	}
	res.StdoutLog, res.StderrLog = sink.Stdout.Name(), sink.Stderr.Name()
	a.record(StageLogs, trace.StatusOK, "created log files", map[string]string{"stdout": res.StdoutLog, "stderr": res.StderrLog})

	// perm
	if permApplies {
		changed, err := makeExecutable(path)
		switch {
		case err != nil:
			// The spawn will surface the real error if this mattered.
			a.record(StagePerm, trace.StatusWarn, "could not mark backend executable", map[string]string{"error": err.Error()})
		case changed:
			a.record(StagePerm, trace.StatusOK, "marked backend executable", map[string]string{"path": path})
		default:
			a.record(StagePerm, trace.StatusOK, "backend already executable", nil)
		}
	}

	// spawn
	if probe != nil {
		res.Probe = probe.String()
		if e, ok := probe.(readiness.Enver); ok {
			req.Env = append(req.Env, e.Env()...)
		}
	}

	proc, err := s.cfg.Executor.Start(executor.Command{
		Path:   req.BackendPath,
		Args:   req.Args,
		Env:    s.childEnv(req, probe),
		Dir:    req.ResourceDir,
		Stdout: sink.Stdout,
		Stderr: sink.Stderr,
	})
	if closeErr := sink.Close(); closeErr != nil {
		log.Warn("closing parent log handles", "error", closeErr)
	}
	if err != nil {
		return a.fail(res, stageError(StageSpawn, path, err))
	}
	res.PID = proc.Pid()
	ch := &child{proc: proc, attemptID: a.id, path: path, started: time.Now()}
	s.setCurrent(ch)
	a.record(StageSpawn, trace.StatusOK, "backend spawned", map[string]string{"pid": strconv.Itoa(res.PID)})
	log.Info("backend spawned", "pid", res.PID, "path", path)

	// ready
	if probe != nil {
		err := readiness.Wait(ctx, probe, readiness.OptionsFrom(s.cfg.Readiness), proc.Done())
		if err != nil {
			s.stopChild(ch)
			return a.fail(res, stageError(StageReady, "", err))
		}
		fields := map[string]string{
			"probe":   probe.String(),
			"elapsed": time.Since(ch.started).Round(time.Millisecond).String(),
		}
		if r, ok := probe.(readiness.Reporter); ok && r.Status() != "" {
			fields["status"] = r.Status()
			res.ReadyStatus = r.Status()
		}
		a.record(StageReady, trace.StatusOK, "backend ready", fields)
	}

	res.Elapsed = time.Since(res.Started)
	log.Info("backend ready", "pid", res.PID, "elapsed", res.Elapsed)
	return *res
}

// childEnv builds the child's environment: the inherited one without the
// host's own service-manager variables, then the directory variables, the
// configured extras, and whatever the probe needs. Later entries win.
func (s *Supervisor) childEnv(req Request, probe readiness.Probe) []string {
	var env []string
	for _, kv := range s.cfg.Environ() {
		k, _, _ := strings.Cut(kv, "=")
		switch k {
		case "NOTIFY_SOCKET", "LISTEN_FDS", "LISTEN_PID", "LISTEN_FDNAMES":
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		s.cfg.ResourceDirEnv+"="+req.ResourceDir,
		s.cfg.LogsDirEnv+"="+req.LogsDir,
	)
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}
	return append(env, req.Env...)
}

func (s *Supervisor) current() *child {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.child
}

func (s *Supervisor) setCurrent(c *child) {
	s.mu.Lock()
	s.child = c
	s.mu.Unlock()
}

// stopChild terminates c, escalating to kill after StopTimeout.
func (s *Supervisor) stopChild(c *child) {
	if !c.running() {
		return
	}
	if err := c.proc.Terminate(); err != nil {
		s.cfg.Logger.Warn("terminating backend", "pid", c.proc.Pid(), "error", err)
	}
	t := time.NewTimer(s.cfg.StopTimeout)
	defer t.Stop()
	select {
	case <-c.proc.Done():
		return
	case <-t.C:
	}
	s.cfg.Logger.Warn("backend ignored terminate, killing", "pid", c.proc.Pid())
	if err := c.proc.Kill(); err != nil {
		s.cfg.Logger.Warn("killing backend", "pid", c.proc.Pid(), "error", err)
	}
	<-c.proc.Done()
}

// Status describes the owned child, if any.
func (s *Supervisor) Status() (ChildStatus, bool) {
	c := s.current()
	if c == nil {
		return ChildStatus{}, false
	}
	st := ChildStatus{
		AttemptID:   c.attemptID,
		PID:         c.proc.Pid(),
		BackendPath: c.path,
		Started:     c.started,
		Running:     c.running(),
	}
	if !st.Running {
		code, _ := c.proc.Wait()
		st.ExitCode = &code
	}
	return st, true
}

// Shutdown applies the lifecycle policy to the owned child: terminate
// stops it, detach leaves it running on purpose. Both are traced.
func (s *Supervisor) Shutdown(policy string) error {
	s.stop()
	s.attemptMu.Lock()
	defer s.attemptMu.Unlock()

	c := s.current()
	if c == nil || !c.running() {
		return nil
	}
	a := &attempt{s: s, id: c.attemptID}
	pid := strconv.Itoa(c.proc.Pid())

	switch policy {
	case config.OnExitDetach:
		a.record(StageExit, trace.StatusInfo, "host exiting, leaving backend running", map[string]string{"pid": pid, "policy": policy})
		s.setCurrent(nil)
		return nil
	case config.OnExitTerminate, "":
		s.stopChild(c)
		code, _ := c.proc.Wait()
		a.record(StageExit, trace.StatusInfo, "host exiting, backend stopped", map[string]string{
			"pid":       pid,
			"policy":    config.OnExitTerminate,
			"exit_code": strconv.Itoa(code),
		})
		return nil
	default:
		return fmt.Errorf("unknown lifecycle policy %q", policy)
	}
}

// IsMissing reports whether err is a missing-backend failure caused by the
// file not existing (as opposed to, say, a directory in its place).
func IsMissing(err error) bool {
	return errors.Is(err, ErrBackendMissing) && errors.Is(err, fs.ErrNotExist)
}

// StdoutLogPath returns where the child's stdout goes for a logs dir.
func StdoutLogPath(logsDir string) string { return filepath.Join(logsDir, StdoutLogName) }

// StderrLogPath returns where the child's stderr goes for a logs dir.
func StderrLogPath(logsDir string) string { return filepath.Join(logsDir, StderrLogName) }
