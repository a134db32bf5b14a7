package readiness

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mbrock/hostshim/internal/config"
)

// OptionsFrom derives Wait options from configuration. The delay probe is
// its own bound, so it gets no timeout.
func OptionsFrom(cfg config.ReadinessConfig) Options {
	if cfg.Kind == config.ProbeDelay {
		return Options{}
	}
	return Options{Timeout: cfg.Timeout, Interval: cfg.Interval}
}

// HTTP is ready once a GET to URL gets any response below 500, which is
// how the UI checked the backend before it started issuing API calls.
type HTTP struct {
	URL    string
	Client *http.Client
}

// NewHTTP returns an HTTP probe with a short per-request timeout.
func NewHTTP(url string) *HTTP {
	return &HTTP{URL: url, Client: &http.Client{Timeout: 2 * time.Second}}
}

func (p *HTTP) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return err
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("GET %s: %s", p.URL, resp.Status)
	}
	return nil
}

func (p *HTTP) String() string { return "http " + p.URL }

// TCP is ready once Address accepts a connection.
type TCP struct {
	Address string
	dialer  net.Dialer
}

// NewTCP returns a TCP probe.
func NewTCP(addr string) *TCP {
	return &TCP{Address: addr, dialer: net.Dialer{Timeout: 2 * time.Second}}
}

func (p *TCP) Check(ctx context.Context) error {
	conn, err := p.dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

func (p *TCP) String() string { return "tcp " + p.Address }

// Delay is the legacy fixed warm-up: it is "ready" once the duration has
// passed, regardless of what the backend is doing.
type Delay time.Duration

func (d Delay) Check(context.Context) error { return fmt.Errorf("delay probe must block") }

func (d Delay) Block(ctx context.Context) error {
	t := time.NewTimer(time.Duration(d))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}

func (d Delay) String() string { return "delay " + time.Duration(d).String() }

// File is ready once Path exists. It watches the parent directory with
// fsnotify and also polls, since the directory may not exist yet.
type File struct {
	Path     string
	Interval time.Duration
}

// NewFile returns a liveness-file probe.
func NewFile(path string, interval time.Duration) *File {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	return &File{Path: path, Interval: interval}
}

func (p *File) Check(context.Context) error {
	_, err := os.Stat(p.Path)
	return err
}

func (p *File) Block(ctx context.Context) error {
	var events chan fsnotify.Event
	var errs chan error
	if w, err := fsnotify.NewWatcher(); err == nil {
		defer w.Close()
		if w.Add(filepath.Dir(p.Path)) == nil {
			events, errs = w.Events, w.Errors
		}
	}

	t := time.NewTicker(p.Interval)
	defer t.Stop()

	for {
		if p.Check(ctx) == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) != filepath.Clean(p.Path) {
				continue
			}
		case _, ok := <-errs:
			if !ok {
				errs = nil
			}
		case <-t.C:
		}
	}
}

func (p *File) String() string { return "file " + p.Path }
