//go:build !unix

package readiness

import (
	"context"
	"errors"
)

// Notify is unavailable without unix datagram sockets.
type Notify struct{}

// NewNotify always fails on this platform.
func NewNotify(string) (*Notify, error) {
	return nil, errors.New("notify readiness probe requires unix sockets")
}

func (n *Notify) Env() []string                   { return nil }
func (n *Notify) Status() string                  { return "" }
func (n *Notify) Check(context.Context) error     { return errors.New("unsupported") }
func (n *Notify) Block(ctx context.Context) error { return errors.New("unsupported") }
func (n *Notify) Close() error                    { return nil }
func (n *Notify) String() string                  { return "notify" }
