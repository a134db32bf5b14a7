// Package readiness decides when a freshly spawned backend is able to serve.
//
// A probe is either polled (Check is called every interval until it returns
// nil) or blocking (it implements Blocker and waits on its own). Wait bounds
// both kinds by a timeout, the caller's context, and the child's exit.
package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbrock/hostshim/internal/config"
)

var (
	// ErrTimeout means the probe never succeeded within the timeout.
	ErrTimeout = errors.New("backend not ready before timeout")
	// ErrExited means the child exited while the host was waiting.
	ErrExited = errors.New("backend exited during warm-up")
)

// Probe reports whether the backend is ready.
type Probe interface {
	// Check returns nil once the backend is ready.
	Check(ctx context.Context) error
	String() string
}

// Blocker is implemented by probes that wait for an event instead of
// being polled.
type Blocker interface {
	Block(ctx context.Context) error
}

// Enver is implemented by probes that need variables in the child's
// environment.
type Enver interface {
	Env() []string
}

// Reporter is implemented by probes that learn a status line from the
// backend while waiting.
type Reporter interface {
	Status() string
}

// Options bound a Wait.
type Options struct {
	Timeout  time.Duration
	Interval time.Duration
}

// New builds the probe described by cfg. A nil probe (kind none) is
// always ready. notifyDir is where the notify socket is created.
func New(cfg config.ReadinessConfig, notifyDir string) (Probe, error) {
	switch cfg.Kind {
	case config.ProbeHTTP:
		return NewHTTP(cfg.URL), nil
	case config.ProbeTCP:
		return NewTCP(cfg.Address), nil
	case config.ProbeFile:
		return NewFile(cfg.File, cfg.Interval), nil
	case config.ProbeNotify:
		n, err := NewNotify(notifyDir)
		if err != nil {
			return nil, err
		}
		return n, nil
	case config.ProbeDelay:
		return Delay(cfg.Delay), nil
	case config.ProbeNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown readiness probe %q", cfg.Kind)
	}
}

// Wait blocks until probe succeeds, opts.Timeout elapses, ctx is done, or
// exited is closed. A nil probe returns immediately.
func Wait(ctx context.Context, probe Probe, opts Options, exited <-chan struct{}) error {
	if probe == nil {
		return nil
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	// Child exit cancels the wait like a context would.
	waitCtx, cancelWait := context.WithCancelCause(ctx)
	defer cancelWait(nil)
	go func() {
		select {
		case <-exited:
			cancelWait(ErrExited)
		case <-waitCtx.Done():
		}
	}()

	var err error
	if b, ok := probe.(Blocker); ok {
		err = b.Block(waitCtx)
	} else {
		err = poll(waitCtx, probe, opts.Interval)
	}
	if err == nil {
		return nil
	}
	return classify(ctx, waitCtx, probe, err)
}

func poll(ctx context.Context, probe Probe, interval time.Duration) error {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	var last error
	for {
		if last = probe.Check(ctx); last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w (last check: %v)", context.Cause(ctx), last)
		case <-t.C:
		}
	}
}

// classify turns a failed wait into ErrExited, ErrTimeout, or the caller's
// cancellation, keeping the probe's last error for context.
func classify(parent, waitCtx context.Context, probe Probe, err error) error {
	switch {
	case errors.Is(context.Cause(waitCtx), ErrExited):
		return fmt.Errorf("%w (probe %s)", ErrExited, probe)
	case errors.Is(parent.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: probe %s: %v", ErrTimeout, probe, err)
	case parent.Err() != nil:
		return fmt.Errorf("waiting for %s: %w", probe, parent.Err())
	default:
		return fmt.Errorf("probe %s: %w", probe, err)
	}
}
