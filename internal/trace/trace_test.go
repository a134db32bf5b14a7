package trace

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestFile_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", FileName)

	f, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	entries := []Entry{
		{Attempt: "a1", Stage: "resolve", Status: StatusOK, Message: "resolved backend path", Fields: map[string]string{"path": "/opt/app/my backend"}},
		{Attempt: "a1", Stage: "check", Status: StatusError, Message: `backend "missing"`, Fields: map[string]string{"error": "stat: no such file\nor directory"}},
	}
	for _, e := range entries {
		if err := f.Write(e); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Write(entries[0]); err == nil {
		t.Fatal("Write after Close should fail")
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	for i, want := range entries {
		g := got[i]
		if g.Attempt != want.Attempt || g.Stage != want.Stage || g.Status != want.Status || g.Message != want.Message {
			t.Errorf("entry %d = %+v, want %+v", i, g, want)
		}
		for k, v := range want.Fields {
			if g.Fields[k] != v {
				t.Errorf("entry %d field %s = %q, want %q", i, k, g.Fields[k], v)
			}
		}
		if g.Time.IsZero() {
			t.Errorf("entry %d has no timestamp", i)
		}
	}
}

func TestFile_ControlBytesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	f, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	// Backends write coloured stderr and arbitrary bytes end up in errors;
	// slog quotes them with \x escapes.
	want := Entry{
		Attempt: "a1",
		Stage:   "ready",
		Status:  StatusError,
		Message: "\x1b[31mEADDRINUSE\x1b[0m",
		Fields:  map[string]string{"error": "bad byte \xff\vend"},
	}
	if err := f.Write(want); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Message != want.Message || got[0].Fields["error"] != want.Fields["error"] {
		t.Fatalf("entries = %+v", got)
	}
}

func TestFile_AppendsAcrossOpens(t *testing.T) {
	path := filepath.Join(t.TempDir(), FileName)
	for i := range 2 {
		f, err := OpenFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := f.Write(Entry{Attempt: string(rune('a' + i)), Stage: "spawn", Status: StatusOK, Message: "spawned"}); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Attempt != "a" || got[1].Attempt != "b" {
		t.Fatalf("entries = %+v", got)
	}
}

func TestRead_SkipsForeignLines(t *testing.T) {
	input := strings.Join([]string{
		"not a trace line",
		`time=2026-10-15T08:00:00Z level=INFO msg=hello attempt=x stage=spawn status=ok pid=42`,
		`time=2026-10-15T08:00:01Z level=INFO msg="no stage here"`,
	}, "\n")
	got, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Fields["pid"] != "42" {
		t.Fatalf("entries = %+v", got)
	}
}

type failingSink struct{}

func (failingSink) Write(Entry) error { return errors.New("boom") }
func (failingSink) Close() error      { return nil }

func TestMulti_WritesToAllSinks(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	m := Multi{a, failingSink{}, b}

	err := m.Write(Entry{Stage: "resolve"})
	if err == nil {
		t.Fatal("expected joined error from failing sink")
	}
	if len(a.Entries()) != 1 || len(b.Entries()) != 1 {
		t.Fatal("healthy sinks should still receive the entry")
	}
}

func TestMemory_Stages(t *testing.T) {
	m := NewMemory()
	m.Write(Entry{Attempt: "1", Stage: "resolve"})
	m.Write(Entry{Attempt: "2", Stage: "resolve"})
	m.Write(Entry{Attempt: "1", Stage: "check"})

	if got := strings.Join(m.Stages("1"), ","); got != "resolve,check" {
		t.Fatalf("Stages(1) = %s", got)
	}
	if got := len(m.Stages("")); got != 3 {
		t.Fatalf("Stages(\"\") len = %d", got)
	}
}

func TestHub_SubscribeAndRecent(t *testing.T) {
	h := NewHub(2)
	h.Write(Entry{Stage: "old"})

	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx)

	h.Write(Entry{Stage: "resolve"})
	h.Write(Entry{Stage: "check"})

	for _, want := range []string{"resolve", "check"} {
		select {
		case e := <-ch:
			if e.Stage != want {
				t.Fatalf("got %q, want %q", e.Stage, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}

	recent := h.Recent()
	if len(recent) != 2 || recent[0].Stage != "resolve" {
		t.Fatalf("Recent = %+v, want last two", recent)
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestJournalKey(t *testing.T) {
	if got := journalKey("backend-path.v2"); got != "BACKEND_PATH_V2" {
		t.Fatalf("journalKey = %q", got)
	}
}
