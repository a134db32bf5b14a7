package present

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"
)

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiRed   = "\x1b[31m"
	ansiGreen = "\x1b[32m"
	ansiDim   = "\x1b[2m"
)

// Terminal writes a short summary to w. Colour is used only when w is a
// terminal.
type Terminal struct {
	w     io.Writer
	color bool
}

// NewTerminal creates a Terminal presenter writing to w.
func NewTerminal(w io.Writer) *Terminal {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd())) && os.Getenv("NO_COLOR") == ""
	}
	return &Terminal{w: w, color: color}
}

func (t *Terminal) style(codes, s string) string {
	if !t.color {
		return s
	}
	return codes + s + ansiReset
}

func (t *Terminal) Present(ctx context.Context, o Outcome) error {
	if o.OK {
		_, err := fmt.Fprintf(t.w, "%s backend started in %s (pid %d)\n  %s\n  %s\n",
			t.style(ansiBold+ansiGreen, "✓"),
			o.Elapsed.Round(time.Millisecond),
			o.PID,
			o.BackendPath,
			t.style(ansiDim, "logs: "+o.LogsDir),
		)
		return err
	}

	if _, err := fmt.Fprintf(t.w, "%s backend failed at %s stage\n  %s\n",
		t.style(ansiBold+ansiRed, "✗"),
		o.Stage,
		o.Summary,
	); err != nil {
		return err
	}
	if o.Missing {
		if _, err := fmt.Fprintf(t.w, "  the installation is incomplete; reinstall the app\n"); err != nil {
			return err
		}
	}
	if o.LogsDir != "" {
		line := "logs: " + o.LogsDir
		if n := o.stderrSize(); n > 0 {
			line += fmt.Sprintf(" (%s of stderr)", humanize.Bytes(uint64(n)))
		}
		if _, err := fmt.Fprintf(t.w, "  %s\n", t.style(ansiDim, line)); err != nil {
			return err
		}
	}
	return nil
}
