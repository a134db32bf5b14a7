package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// FakeCommand simulates a process. It writes to stdout/stderr and returns an
// exit code. ctx is cancelled when the process is terminated or killed.
type FakeCommand func(ctx context.Context, stdout, stderr io.Writer, cmd Command) int

// FakeExecutor is a test implementation of Executor that runs registered
// fake commands in goroutines and records every Start call.
type FakeExecutor struct {
	mu       sync.Mutex
	commands map[string]FakeCommand
	calls    []Command
	nextPID  int

	// StartErr, when set, makes every Start fail with it.
	StartErr error
}

// NewFakeExecutor creates a new FakeExecutor.
func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{
		commands: make(map[string]FakeCommand),
		nextPID:  4000,
	}
}

// RegisterCommand registers a fake implementation. name matches either the
// full path of the command or its base name.
func (e *FakeExecutor) RegisterCommand(name string, handler FakeCommand) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.commands[name] = handler
}

// Calls returns a copy of every Command passed to Start, in order.
func (e *FakeExecutor) Calls() []Command {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Command(nil), e.calls...)
}

// fakeProcess implements Process for FakeExecutor.
type fakeProcess struct {
	pid    int
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	exitCode int
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Wait() (int, error) {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, nil
}

func (p *fakeProcess) Terminate() error {
	p.cancel()
	return nil
}

func (p *fakeProcess) Kill() error {
	p.cancel()
	return nil
}

// Start implements Executor.Start for FakeExecutor.
func (e *FakeExecutor) Start(c Command) (Process, error) {
	e.mu.Lock()
	e.calls = append(e.calls, c)
	startErr := e.StartErr
	handler, ok := e.commands[c.Path]
	if !ok {
		handler, ok = e.commands[filepath.Base(c.Path)]
	}
	e.nextPID++
	pid := e.nextPID
	e.mu.Unlock()

	if startErr != nil {
		return nil, startErr
	}
	if !ok {
		return nil, fmt.Errorf("executable %q not found", c.Path)
	}

	// Reopen the sinks by name since the caller closes its handles after
	// Start returns, the way a real child keeps its inherited descriptors.
	stdout, err := reopen(c.Stdout)
	if err != nil {
		return nil, fmt.Errorf("reopen stdout: %w", err)
	}
	stderr, err := reopen(c.Stderr)
	if err != nil {
		closeQuiet(stdout)
		return nil, fmt.Errorf("reopen stderr: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	proc := &fakeProcess{
		pid:    pid,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer closeQuiet(stdout)
		defer closeQuiet(stderr)

		exitCode := handler(ctx, writerOrDiscard(stdout), writerOrDiscard(stderr), c)
		proc.mu.Lock()
		proc.exitCode = exitCode
		proc.mu.Unlock()
		cancel()
		close(proc.done)
	}()

	return proc, nil
}

func reopen(f *os.File) (*os.File, error) {
	if f == nil {
		return nil, nil
	}
	return os.OpenFile(f.Name(), os.O_WRONLY|os.O_APPEND, 0)
}

func closeQuiet(f *os.File) {
	if f != nil {
		f.Close()
	}
}

func writerOrDiscard(f *os.File) io.Writer {
	if f == nil {
		return io.Discard
	}
	return f
}
