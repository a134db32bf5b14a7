package present

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	notifyDest   = "org.freedesktop.Notifications"
	notifyPath   = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod = notifyDest + ".Notify"
)

// Notification urgency levels.
const (
	urgencyNormal   byte = 1
	urgencyCritical byte = 2
)

// caller is the part of dbus.BusObject the desktop presenter uses.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

// Desktop sends outcomes as desktop notifications over the session bus.
// Each notification replaces the previous one from the same presenter.
type Desktop struct {
	appName string
	conn    *dbus.Conn
	obj     caller

	mu     sync.Mutex
	lastID uint32
}

// NewDesktop connects to the session bus.
func NewDesktop(appName string) (*Desktop, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connecting to session bus: %w", err)
	}
	return &Desktop{
		appName: appName,
		conn:    conn,
		obj:     conn.Object(notifyDest, notifyPath),
	}, nil
}

func newDesktopWith(appName string, obj caller) *Desktop {
	return &Desktop{appName: appName, obj: obj}
}

func (d *Desktop) Present(ctx context.Context, o Outcome) error {
	summary := d.appName + ": backend started"
	body := fmt.Sprintf("pid %d, logs in %s", o.PID, o.LogsDir)
	urgency := urgencyNormal
	icon := "dialog-information"
	if !o.OK {
		summary = d.appName + ": backend failed"
		body = o.Summary
		urgency = urgencyCritical
		icon = "dialog-error"
	}

	d.mu.Lock()
	replaces := d.lastID
	d.mu.Unlock()

	call := d.obj.CallWithContext(ctx, notifyMethod, 0,
		d.appName,
		replaces,
		icon,
		summary,
		body,
		[]string{},
		map[string]dbus.Variant{"urgency": dbus.MakeVariant(urgency)},
		int32(-1),
	)
	if call.Err != nil {
		return fmt.Errorf("sending notification: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return fmt.Errorf("reading notification id: %w", err)
	}

	d.mu.Lock()
	d.lastID = id
	d.mu.Unlock()
	return nil
}

// Close disconnects from the bus.
func (d *Desktop) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}
