package server

import (
	"context"
	"fmt"
	"time"

	"github.com/a-h/templ"
	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mbrock/hostshim/cmd/hostshim/templates"
	"github.com/mbrock/hostshim/internal/host"
	"github.com/mbrock/hostshim/internal/trace"
)

// statusView is host.Status plus what the status page shows about the
// live child process.
type statusView struct {
	host.Status
	RSS      uint64  `json:"rss,omitempty"`
	RSSHuman string  `json:"rss_human,omitempty"`
	CPU      float64 `json:"cpu_percent,omitempty"`
	Uptime   string  `json:"uptime,omitempty"`
	Trace    []Event `json:"trace,omitempty"`
}

func newStatusView(ctx context.Context, st host.Status, recent []trace.Entry) statusView {
	v := statusView{Status: st}
	if c := st.Child; c != nil && c.Running {
		v.Uptime = humanize.Time(c.Started)
		if p, err := process.NewProcessWithContext(ctx, int32(c.PID)); err == nil {
			if mem, err := p.MemoryInfoWithContext(ctx); err == nil {
				v.RSS = mem.RSS
				v.RSSHuman = humanize.Bytes(mem.RSS)
			}
			if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
				v.CPU = cpu
			}
		}
	}
	for _, e := range recent {
		v.Trace = append(v.Trace, toEvent(e))
	}
	return v
}

func (v statusView) childState() string {
	c := v.Child
	switch {
	case c == nil:
		return "not started"
	case c.Running:
		return "running"
	case c.ExitCode != nil:
		return fmt.Sprintf("exited (%d)", *c.ExitCode)
	default:
		return "exited"
	}
}

// statusPage renders the status page.
func statusPage(v statusView) templ.Component {
	d := templates.StatusData{AppName: v.AppName, LastErr: v.LastErr}
	row := func(label, value string) {
		d.Rows = append(d.Rows, templates.Row{Label: label, Value: value})
	}
	row("Backend", v.childState())
	if c := v.Child; c != nil {
		row("PID", fmt.Sprint(c.PID))
		row("Path", c.BackendPath)
		if v.Uptime != "" {
			row("Started", v.Uptime)
		}
		if v.RSSHuman != "" {
			row("Memory", v.RSSHuman)
		}
	}
	if v.Last != nil && v.Last.ReadyStatus != "" {
		row("Reported", v.Last.ReadyStatus)
	}
	row("Logs", v.LogsDir)
	row("On exit", v.OnExit)
	row("Attempts", fmt.Sprint(v.Attempts))

	for _, e := range v.Trace {
		d.Trace = append(d.Trace, templates.TraceRow{
			Time:    e.Time.Format(time.TimeOnly),
			Stage:   e.Stage,
			Status:  e.Status,
			Message: e.Message,
		})
	}
	return templates.StatusPage(d)
}
