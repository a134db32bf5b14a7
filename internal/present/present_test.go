package present

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"

	"github.com/mbrock/hostshim/internal/launch"
)

func TestFromResult(t *testing.T) {
	ok := launch.Result{PID: 42, BackendPath: "/app/backend", LogsDir: "/app/logs", Elapsed: time.Second}
	o := FromResult(ok)
	if !o.OK || o.Stage != "" || o.PID != 42 || !strings.Contains(o.Summary, "pid 42") {
		t.Fatalf("outcome = %+v", o)
	}

	failed := launch.Result{Err: &launch.Error{Stage: launch.StageCheck, Path: "/app/backend", Err: os.ErrNotExist}}
	o = FromResult(failed)
	if o.OK || o.Stage != "check" || !o.Missing || !strings.Contains(o.Summary, "backend executable missing") {
		t.Fatalf("outcome = %+v", o)
	}

	notFile := launch.Result{Err: &launch.Error{Stage: launch.StageCheck, Path: "/app/backend", Err: errors.New("not a regular file (d---------)")}}
	if o := FromResult(notFile); o.Missing {
		t.Fatalf("directory in place of backend reported as missing: %+v", o)
	}
}

func TestTerminal_MissingBackendSuggestsReinstall(t *testing.T) {
	var buf bytes.Buffer
	err := NewTerminal(&buf).Present(context.Background(), Outcome{
		Stage:   "check",
		Summary: "Failed to start backend at check stage: backend executable missing",
		Missing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "reinstall the app") {
		t.Fatalf("output = %q", buf.String())
	}
}

func TestTerminal_Success(t *testing.T) {
	var buf bytes.Buffer
	p := NewTerminal(&buf)
	err := p.Present(context.Background(), Outcome{
		OK:          true,
		PID:         4001,
		BackendPath: "/app/resources/backend",
		LogsDir:     "/app/logs",
		Elapsed:     1234567 * time.Microsecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"backend started in 1.235s", "pid 4001", "/app/resources/backend", "logs: /app/logs"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("colour used for non-terminal writer: %q", out)
	}
}

func TestTerminal_FailureShowsStderrSize(t *testing.T) {
	logs := t.TempDir()
	stderr := filepath.Join(logs, launch.StderrLogName)
	if err := os.WriteFile(stderr, bytes.Repeat([]byte("x"), 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	err := NewTerminal(&buf).Present(context.Background(), Outcome{
		Stage:     "ready",
		Summary:   "Failed to start backend at ready stage: boom",
		LogsDir:   logs,
		StderrLog: stderr,
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "failed at ready stage") || !strings.Contains(out, "boom") {
		t.Fatalf("output = %q", out)
	}
	if !strings.Contains(out, "2.0 kB of stderr") {
		t.Fatalf("expected humanized stderr size: %q", out)
	}
}

type fakeBus struct {
	calls [][]interface{}
	id    uint32
	err   error
}

func (f *fakeBus) CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call {
	f.calls = append(f.calls, args)
	if f.err != nil {
		return &dbus.Call{Err: f.err}
	}
	f.id++
	return &dbus.Call{Method: method, Body: []interface{}{f.id}}
}

func TestDesktop_NotifiesAndReplaces(t *testing.T) {
	bus := &fakeBus{}
	d := newDesktopWith("myapp", bus)

	if err := d.Present(context.Background(), Outcome{OK: true, PID: 7, LogsDir: "/l"}); err != nil {
		t.Fatal(err)
	}
	if err := d.Present(context.Background(), Outcome{Summary: "Failed to start backend at spawn stage: nope"}); err != nil {
		t.Fatal(err)
	}
	if len(bus.calls) != 2 {
		t.Fatalf("calls = %d", len(bus.calls))
	}

	first, second := bus.calls[0], bus.calls[1]
	if first[0] != "myapp" || first[1] != uint32(0) || first[3] != "myapp: backend started" {
		t.Fatalf("first call = %v", first)
	}
	if second[1] != uint32(1) {
		t.Fatalf("second notification should replace id 1, got %v", second[1])
	}
	if second[4] != "Failed to start backend at spawn stage: nope" {
		t.Fatalf("second body = %v", second[4])
	}
	hints := second[6].(map[string]dbus.Variant)
	if hints["urgency"].Value() != urgencyCritical {
		t.Fatalf("urgency = %v", hints["urgency"])
	}
}

func TestMulti_JoinsErrors(t *testing.T) {
	var buf bytes.Buffer
	bad := newDesktopWith("x", &fakeBus{err: errors.New("no notification daemon")})
	m := Multi{NewTerminal(&buf), bad}

	err := m.Present(context.Background(), Outcome{OK: true})
	if err == nil || !strings.Contains(err.Error(), "no notification daemon") {
		t.Fatalf("err = %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("terminal presenter skipped after another failed")
	}
}
