// Package trace records the stage-by-stage progress of backend launch
// attempts. Entries go to a persistent text log next to the backend logs,
// and optionally to journald and live subscribers.
package trace

import (
	"errors"
	"maps"
	"time"
)

// Entry statuses.
const (
	StatusOK    = "ok"
	StatusError = "error"
	StatusWarn  = "warn"
	StatusInfo  = "info"
)

// Entry is one trace record.
type Entry struct {
	Time    time.Time
	Attempt string
	Stage   string
	Status  string
	Message string
	Fields  map[string]string
}

// Sink stores trace entries.
type Sink interface {
	Write(e Entry) error
	Close() error
}

// Multi writes every entry to all sinks. Errors are joined; a failing sink
// does not stop the others.
type Multi []Sink

var _ Sink = Multi(nil)

func (m Multi) Write(e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func copyFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	return maps.Clone(fields)
}
