// Package executor provides an abstraction for starting the backend process.
package executor

import (
	"errors"
	"os"
	"os/exec"
	"sync"
)

// Command describes a process to start.
type Command struct {
	Path string
	Args []string
	// Env is the complete environment of the child.
	Env []string
	Dir string

	// Stdout and Stderr are inherited by the child. The caller keeps
	// ownership and may close them once Start returns.
	Stdout *os.File
	Stderr *os.File
}

// Process represents a started process.
type Process interface {
	// Pid returns the OS process id.
	Pid() int
	// Done is closed once the process has exited.
	Done() <-chan struct{}
	// Wait blocks until the process exits and returns the exit code.
	Wait() (exitCode int, err error)
	// Terminate asks the process (and its group, where supported) to exit.
	Terminate() error
	// Kill forcibly stops the process (and its group, where supported).
	Kill() error
}

// Executor starts processes.
type Executor interface {
	Start(cmd Command) (Process, error)
}

// ExecExecutor is the default Executor that uses os/exec.
type ExecExecutor struct{}

// execProcess wraps exec.Cmd to implement Process. A single goroutine owns
// cmd.Wait; everyone else observes done.
type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu       sync.Mutex
	exitCode int
	exitErr  error
}

func (p *execProcess) Pid() int { return p.cmd.Process.Pid }

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exitErr
}

func (p *execProcess) Terminate() error {
	if p.exited() {
		return nil
	}
	return terminate(p.cmd.Process)
}

func (p *execProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return kill(p.cmd.Process)
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *execProcess) waitForExit() {
	err := p.cmd.Wait()

	exitCode := 0
	var exitErr error
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			exitCode = ee.ExitCode()
		} else {
			exitCode = 1
			exitErr = err
		}
	}

	p.mu.Lock()
	p.exitCode = exitCode
	p.exitErr = exitErr
	p.mu.Unlock()
	close(p.done)
}

// Start implements Executor.Start using os/exec. The child gets its own
// process group (Unix) or no console window (Windows).
func (e *ExecExecutor) Start(c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Env = c.Env
	cmd.Dir = c.Dir
	if c.Stdout != nil {
		cmd.Stdout = c.Stdout
	}
	if c.Stderr != nil {
		cmd.Stderr = c.Stderr
	}
	setSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.waitForExit()
	return p, nil
}

// Default returns the default ExecExecutor.
func Default() Executor {
	return &ExecExecutor{}
}
