//go:build unix

package executor

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func openSink(t *testing.T, name string) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), name))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestExecExecutor_RedirectsAndExitCode(t *testing.T) {
	stdout := openSink(t, "out.log")
	stderr := openSink(t, "err.log")

	p, err := Default().Start(Command{
		Path:   "/bin/sh",
		Args:   []string{"-c", `echo "out $GREETING"; echo err >&2; exit 3`},
		Env:    []string{"GREETING=hello"},
		Stdout: stdout,
		Stderr: stderr,
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if p.Pid() <= 0 {
		t.Fatalf("Pid = %d", p.Pid())
	}

	code, err := p.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 3 {
		t.Fatalf("exit code = %d, want 3", code)
	}

	out, _ := os.ReadFile(stdout.Name())
	if strings.TrimSpace(string(out)) != "out hello" {
		t.Errorf("stdout = %q", out)
	}
	errOut, _ := os.ReadFile(stderr.Name())
	if strings.TrimSpace(string(errOut)) != "err" {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestExecExecutor_TerminateGroup(t *testing.T) {
	p, err := Default().Start(Command{
		Path: "/bin/sh",
		Args: []string{"-c", "sleep 30 & wait"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := p.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}

	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		p.Kill()
		t.Fatal("process did not exit after Terminate")
	}

	// Terminating an exited process is a no-op.
	if err := p.Terminate(); err != nil {
		t.Fatalf("second Terminate: %v", err)
	}
}

func TestExecExecutor_StartError(t *testing.T) {
	_, err := Default().Start(Command{Path: filepath.Join(t.TempDir(), "missing")})
	if err == nil {
		t.Fatal("expected error starting missing executable")
	}
}

func TestFakeExecutor_RecordsAndWrites(t *testing.T) {
	exec := NewFakeExecutor()
	exec.RegisterCommand("backend", func(ctx context.Context, stdout, stderr io.Writer, c Command) int {
		fmt.Fprintln(stdout, "listening")
		<-ctx.Done()
		return 0
	})

	stdout := openSink(t, "out.log")
	p, err := exec.Start(Command{Path: "/opt/app/backend", Stdout: stdout})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	stdout.Close()

	if err := p.Terminate(); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Wait(); err != nil {
		t.Fatal(err)
	}

	out, _ := os.ReadFile(stdout.Name())
	if strings.TrimSpace(string(out)) != "listening" {
		t.Errorf("stdout = %q", out)
	}
	if calls := exec.Calls(); len(calls) != 1 || calls[0].Path != "/opt/app/backend" {
		t.Errorf("Calls = %+v", calls)
	}
}

func TestFakeExecutor_Unregistered(t *testing.T) {
	exec := NewFakeExecutor()
	if _, err := exec.Start(Command{Path: "/nope"}); err == nil {
		t.Fatal("expected error")
	}
	if len(exec.Calls()) != 1 {
		t.Fatal("failed start should still be recorded")
	}
}
