package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/mbrock/hostshim/internal/server"
	"github.com/mbrock/hostshim/internal/trace"
)

// cmdTrace prints the startup trace from the logs directory, or follows a
// running host's trace with --follow.
func cmdTrace() {
	if followFlag {
		followTrace()
		return
	}

	cfg, _ := loadConfig()
	path := filepath.Join(cfg.Paths.LogsDir, trace.FileName)
	entries, err := trace.ReadFile(path)
	if err != nil {
		fatal("reading startup trace: %v", err)
	}
	if len(entries) == 0 {
		fmt.Printf("no launch attempts recorded in %s\n", path)
		return
	}
	if !allFlag {
		entries = lastAttempt(entries)
	}
	printTrace(os.Stdout, entries, time.Now())
}

// lastAttempt keeps the entries of the most recent attempt.
func lastAttempt(entries []trace.Entry) []trace.Entry {
	last := entries[len(entries)-1].Attempt
	return slices.DeleteFunc(slices.Clone(entries), func(e trace.Entry) bool {
		return e.Attempt != last
	})
}

func printTrace(w io.Writer, entries []trace.Entry, now time.Time) {
	attempt := ""
	for _, e := range entries {
		if e.Attempt != attempt {
			attempt = e.Attempt
			fmt.Fprintf(w, "attempt %s (%s)\n", shortID(attempt), humanize.RelTime(e.Time, now, "ago", "from now"))
		}
		fmt.Fprintf(w, "  %-8s %-6s %s%s\n", e.Stage, e.Status, e.Message, formatFields(e.Fields))
	}
}

func formatFields(fields map[string]string) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%q", k, fields[k])
	}
	return b.String()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func followTrace() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := controlClient().Follow(ctx, func(e server.Event) {
		fmt.Printf("%s %s %-8s %-6s %s%s\n",
			e.Time.Local().Format(time.TimeOnly), shortID(e.Attempt), e.Stage, e.Status, e.Message, formatFields(e.Fields))
	})
	if err != nil {
		fatal("following trace: %v", err)
	}
}
