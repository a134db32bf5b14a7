// Package present shows launch outcomes to the person running the app:
// a summary on the terminal and a desktop notification.
package present

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/mbrock/hostshim/internal/launch"
)

// Outcome is what a presenter needs to know about one launch attempt.
type Outcome struct {
	OK          bool
	Stage       string
	Summary     string
	PID         int
	BackendPath string
	LogsDir     string
	StderrLog   string
	Elapsed     time.Duration
	// Missing is set when the backend file is not there at all.
	Missing bool
}

// FromResult builds an Outcome from a launch result.
func FromResult(r launch.Result) Outcome {
	return Outcome{
		OK:          r.OK(),
		Stage:       string(r.Stage()),
		Summary:     r.String(),
		PID:         r.PID,
		BackendPath: r.BackendPath,
		LogsDir:     r.LogsDir,
		StderrLog:   r.StderrLog,
		Elapsed:     r.Elapsed,
		Missing:     r.Err != nil && launch.IsMissing(r.Err),
	}
}

// stderrSize returns the size of the backend's error log, or -1.
func (o Outcome) stderrSize() int64 {
	if o.StderrLog == "" {
		return -1
	}
	info, err := os.Stat(o.StderrLog)
	if err != nil {
		return -1
	}
	return info.Size()
}

// Presenter shows an outcome.
type Presenter interface {
	Present(ctx context.Context, o Outcome) error
}

// Multi presents to every presenter, joining errors.
type Multi []Presenter

func (m Multi) Present(ctx context.Context, o Outcome) error {
	var errs []error
	for _, p := range m {
		if err := p.Present(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the presenters that hold resources.
func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if c, ok := p.(io.Closer); ok {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}
