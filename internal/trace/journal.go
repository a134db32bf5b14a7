package trace

import (
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// Journal field names.
const (
	FieldAttempt = "HOSTSHIM_ATTEMPT"
	FieldStage   = "HOSTSHIM_STAGE"
	FieldStatus  = "HOSTSHIM_STATUS"
)

// Journal mirrors entries to systemd-journald so launch failures show up in
// `journalctl --user` alongside the desktop session.
type Journal struct{}

var _ Sink = Journal{}

// JournalEnabled reports whether a journald socket is reachable.
func JournalEnabled() bool { return journal.Enabled() }

func (Journal) Write(e Entry) error {
	vars := map[string]string{
		FieldAttempt: e.Attempt,
		FieldStage:   e.Stage,
		FieldStatus:  e.Status,
	}
	for k, v := range e.Fields {
		vars["HOSTSHIM_"+journalKey(k)] = v
	}
	return journal.Send(e.Message, priorityFor(e.Status), vars)
}

func (Journal) Close() error { return nil }

func priorityFor(status string) journal.Priority {
	switch status {
	case StatusError:
		return journal.PriErr
	case StatusWarn:
		return journal.PriWarning
	default:
		return journal.PriInfo
	}
}

// journalKey upper-cases k and replaces anything journald rejects with '_'.
func journalKey(k string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, k)
}
