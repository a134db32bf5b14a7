package trace

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileName is the trace log created in the logs directory.
const FileName = "startup.log"

// File is a Sink backed by an append-only text file. Each entry is one
// slog text line, e.g.
//
//	time=2026-10-15T08:00:00.000Z level=INFO msg="backend spawned" attempt=… stage=spawn status=ok pid=4242
type File struct {
	path string

	mu     sync.Mutex
	f      *os.File
	logger *slog.Logger
}

var _ Sink = (*File)(nil)

// OpenFile opens (creating if needed) the trace log at path for appending.
func OpenFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating trace dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening trace log: %w", err)
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey && len(groups) == 0 {
				return slog.String(slog.TimeKey, a.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			return a
		},
	})
	return &File{path: path, f: f, logger: slog.New(handler)}, nil
}

// Path returns the file location.
func (l *File) Path() string { return l.path }

// Write appends an entry.
func (l *File) Write(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return fmt.Errorf("trace log closed")
	}

	attrs := []slog.Attr{
		slog.String("attempt", e.Attempt),
		slog.String("stage", e.Stage),
		slog.String("status", e.Status),
	}
	for _, k := range slices.Sorted(maps.Keys(e.Fields)) {
		attrs = append(attrs, slog.String(k, e.Fields[k]))
	}

	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	r := slog.NewRecord(ts, levelFor(e.Status), e.Message, 0)
	r.AddAttrs(attrs...)
	if err := l.logger.Handler().Handle(context.Background(), r); err != nil {
		return err
	}
	return l.f.Sync()
}

// Close closes the file.
func (l *File) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

func levelFor(status string) slog.Level {
	switch status {
	case StatusError:
		return slog.LevelError
	case StatusWarn:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// ReadFile parses every entry in a trace log.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Read(f)
}

// Read parses trace lines from r. Lines that are not trace entries are skipped.
func Read(r io.Reader) ([]Entry, error) {
	var entries []Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		kv, err := parseLine(sc.Text())
		if err != nil || kv["stage"] == "" {
			continue
		}
		e := Entry{
			Attempt: kv["attempt"],
			Stage:   kv["stage"],
			Status:  kv["status"],
			Message: kv["msg"],
		}
		if ts, err := time.Parse(time.RFC3339Nano, kv["time"]); err == nil {
			e.Time = ts
		}
		for k, v := range kv {
			switch k {
			case "time", "level", "msg", "attempt", "stage", "status":
				continue
			}
			if e.Fields == nil {
				e.Fields = make(map[string]string)
			}
			e.Fields[k] = v
		}
		entries = append(entries, e)
	}
	return entries, sc.Err()
}

// parseLine splits a slog text line into key/value pairs. Quoted values use
// Go string syntax, which is what slog.TextHandler emits, including \x
// escapes that logfmt decoders reject.
func parseLine(line string) (map[string]string, error) {
	kv := make(map[string]string)
	for {
		line = strings.TrimLeft(line, " ")
		if line == "" {
			return kv, nil
		}
		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			return nil, fmt.Errorf("malformed pair in %q", line)
		}
		key := line[:eq]
		line = line[eq+1:]

		var val string
		if strings.HasPrefix(line, `"`) {
			quoted, err := strconv.QuotedPrefix(line)
			if err != nil {
				return nil, err
			}
			val, err = strconv.Unquote(quoted)
			if err != nil {
				return nil, err
			}
			line = line[len(quoted):]
		} else {
			end := strings.IndexByte(line, ' ')
			if end < 0 {
				end = len(line)
			}
			val = line[:end]
			line = line[end:]
		}
		kv[key] = val
	}
}
