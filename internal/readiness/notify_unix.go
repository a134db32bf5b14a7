//go:build unix

package readiness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Notify implements the sd_notify protocol on the host side: the child
// gets NOTIFY_SOCKET pointing at a datagram socket owned by the host and
// is ready once it sends READY=1.
type Notify struct {
	path string
	conn *net.UnixConn

	mu     sync.Mutex
	status string
}

// NewNotify listens on a fresh datagram socket inside dir (os.TempDir when
// empty; socket paths are length-limited, so short dirs are preferable).
func NewNotify(dir string) (*Notify, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	path := filepath.Join(dir, "hostshim-"+uuid.NewString()[:8]+".sock")
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	if err != nil {
		return nil, fmt.Errorf("listening on notify socket: %w", err)
	}
	return &Notify{path: path, conn: conn}, nil
}

// Path returns the socket path.
func (n *Notify) Path() string { return n.path }

// Env returns the variable the child needs.
func (n *Notify) Env() []string { return []string{"NOTIFY_SOCKET=" + n.path} }

var _ Reporter = (*Notify)(nil)

// Status returns the last STATUS= text the child sent.
func (n *Notify) Status() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Notify) Check(context.Context) error { return fmt.Errorf("notify probe must block") }

// Block reads notifications until READY=1 arrives or ctx is done.
func (n *Notify) Block(ctx context.Context) error {
	ready := make(chan error, 1)
	go func() {
		buf := make([]byte, 4096)
		for {
			nr, _, err := n.conn.ReadFromUnix(buf)
			if err != nil {
				ready <- err
				return
			}
			if n.handle(buf[:nr]) {
				ready <- nil
				return
			}
		}
	}()

	select {
	case err := <-ready:
		return err
	case <-ctx.Done():
		// Unblock the reader; the probe is single-use.
		n.conn.Close()
		<-ready
		return context.Cause(ctx)
	}
}

// handle parses one datagram of newline-separated assignments.
func (n *Notify) handle(msg []byte) bool {
	ready := false
	for _, line := range bytes.Split(msg, []byte("\n")) {
		k, v, ok := strings.Cut(string(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "READY":
			ready = ready || v == "1"
		case "STATUS":
			n.mu.Lock()
			n.status = v
			n.mu.Unlock()
		}
	}
	return ready
}

// Close removes the socket.
func (n *Notify) Close() error {
	err := n.conn.Close()
	os.Remove(n.path)
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (n *Notify) String() string { return "notify " + n.path }
