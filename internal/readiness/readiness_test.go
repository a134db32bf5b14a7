package readiness

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mbrock/hostshim/internal/config"
)

var fast = Options{Timeout: 2 * time.Second, Interval: 10 * time.Millisecond}

func TestWait_NilProbe(t *testing.T) {
	if err := Wait(context.Background(), nil, fast, nil); err != nil {
		t.Fatalf("Wait(nil) = %v", err)
	}
}

func TestWait_HTTPBecomesReady(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNotFound) // any non-5xx means the server is up
	}))
	defer srv.Close()

	if err := Wait(context.Background(), NewHTTP(srv.URL), fast, nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if hits.Load() < 3 {
		t.Fatalf("hits = %d, want >= 3", hits.Load())
	}
}

func closedPort(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestWait_Timeout(t *testing.T) {
	opts := Options{Timeout: 150 * time.Millisecond, Interval: 10 * time.Millisecond}
	start := time.Now()
	err := Wait(context.Background(), NewTCP(closedPort(t)), opts, nil)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took too long: %v", time.Since(start))
	}
}

func TestWait_TCPReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			c.Close()
		}
	}()
	if err := Wait(context.Background(), NewTCP(ln.Addr().String()), fast, nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWait_ChildExited(t *testing.T) {
	exited := make(chan struct{})
	close(exited)
	err := Wait(context.Background(), NewTCP(closedPort(t)), fast, exited)
	if !errors.Is(err, ErrExited) {
		t.Fatalf("err = %v, want ErrExited", err)
	}
}

func TestWait_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()
	err := Wait(ctx, Delay(time.Minute), Options{}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestWait_Delay(t *testing.T) {
	start := time.Now()
	if err := Wait(context.Background(), Delay(50*time.Millisecond), Options{}, nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) < 50*time.Millisecond {
		t.Fatal("delay probe returned early")
	}
}

func TestWait_FileAppears(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ready")
	go func() {
		time.Sleep(50 * time.Millisecond)
		os.WriteFile(path, []byte("ok"), 0o644)
	}()
	if err := Wait(context.Background(), NewFile(path, 20*time.Millisecond), fast, nil); err != nil {
		t.Fatalf("Wait: %v", err)
	}
}

func TestWait_FileInMissingDirTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "ready")
	opts := Options{Timeout: 100 * time.Millisecond}
	if err := Wait(context.Background(), NewFile(path, 10*time.Millisecond), opts, nil); !errors.Is(err, ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestNew(t *testing.T) {
	cfg := config.Default().Readiness

	p, err := New(cfg, "")
	if err != nil || p.String() != "http http://127.0.0.1:5000/" {
		t.Fatalf("New(http) = %v, %v", p, err)
	}

	cfg.Kind = config.ProbeNone
	if p, err := New(cfg, ""); err != nil || p != nil {
		t.Fatalf("New(none) = %v, %v", p, err)
	}

	cfg.Kind = "smoke-signal"
	if _, err := New(cfg, ""); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestOptionsFrom(t *testing.T) {
	cfg := config.Default().Readiness
	if o := OptionsFrom(cfg); o.Timeout != cfg.Timeout || o.Interval != cfg.Interval {
		t.Fatalf("OptionsFrom = %+v", o)
	}
	cfg.Kind = config.ProbeDelay
	if o := OptionsFrom(cfg); o.Timeout != 0 {
		t.Fatalf("delay probe should not get a timeout, got %+v", o)
	}
}
