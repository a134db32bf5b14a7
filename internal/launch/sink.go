package launch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LogSink holds the two files the child writes to. They are truncated on
// every attempt; the child inherits the descriptors and the parent closes
// its own copies once the spawn has happened.
type LogSink struct {
	Stdout *os.File
	Stderr *os.File
}

// OpenLogSink creates dir if needed and opens fresh stdout/stderr logs in it.
func OpenLogSink(dir string) (*LogSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating logs dir: %w", err)
	}
	stdout, err := openTruncated(filepath.Join(dir, StdoutLogName))
	if err != nil {
		return nil, err
	}
	stderr, err := openTruncated(filepath.Join(dir, StderrLogName))
	if err != nil {
		stdout.Close()
		return nil, err
	}
	return &LogSink{Stdout: stdout, Stderr: stderr}, nil
}

func openTruncated(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
}

// Close closes the parent's handles.
func (s *LogSink) Close() error {
	return errors.Join(s.Stdout.Close(), s.Stderr.Close())
}
