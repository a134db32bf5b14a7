package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"
)

// Client talks to a running host's control server over TCP or a unix
// socket.
type Client struct {
	base   string
	origin string
	socket string
	http   *http.Client
}

// NewClient creates a client. If socketPath is set it is used instead of
// addr.
func NewClient(socketPath, addr string) *Client {
	c := &Client{socket: socketPath, http: &http.Client{}}
	if socketPath != "" {
		c.base = "http://hostshim"
		c.http.Transport = &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		}
	} else {
		c.base = "http://" + addr
	}
	c.origin = c.base + "/"
	return c
}

func (c *Client) do(ctx context.Context, method, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	return c.http.Do(req)
}

// Health checks that the server is up.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check: %s", resp.Status)
	}
	return nil
}

// StartBackend asks the host to run a launch attempt. It returns the
// status string, or an error carrying the host's failure message.
func (c *Client) StartBackend(ctx context.Context) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/backend/start")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var r startResponse
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return "", fmt.Errorf("decoding response (%s): %w", resp.Status, err)
	}
	if !r.OK {
		return "", fmt.Errorf("%s", r.Message)
	}
	return r.Message, nil
}

// ExitApp asks the host to exit.
func (c *Client) ExitApp(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodPost, "/app/exit")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("exit: %s", resp.Status)
	}
	return nil
}

// StatusJSON returns the raw JSON status document.
func (c *Client) StatusJSON(ctx context.Context) ([]byte, error) {
	resp, err := c.do(ctx, http.MethodGet, "/status")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// Follow streams trace entries to fn until ctx is done or the server
// closes the stream.
func (c *Client) Follow(ctx context.Context, fn func(Event)) error {
	cfg, err := websocket.NewConfig(strings.Replace(c.base, "http://", "ws://", 1)+"/events", c.origin)
	if err != nil {
		return err
	}
	var conn net.Conn
	var d net.Dialer
	if c.socket != "" {
		conn, err = d.DialContext(ctx, "unix", c.socket)
	} else {
		conn, err = d.DialContext(ctx, "tcp", cfg.Location.Host)
	}
	if err != nil {
		return err
	}
	ws, err := websocket.NewClient(cfg, conn)
	if err != nil {
		conn.Close()
		return err
	}
	defer ws.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.SetDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		var ev Event
		if err := websocket.JSON.Receive(ws, &ev); err != nil {
			if ctx.Err() != nil || err == io.EOF {
				return nil
			}
			return err
		}
		fn(ev)
	}
}
