// Package uplink owns the single persistent TCP connection from Ship to
// Offshore: lazy dial, single-flight connection creation, and redial after
// the link is found to be closed.
//
// The guard here follows the ExclusiveIdempotentTaskTracker pattern:
// multiple callers racing to create the same resource must produce exactly
// one dial, with late arrivals waiting on the in-flight attempt rather than
// starting their own.
package uplink

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/shipoffshore/tunnel/internal/frame"
	"github.com/sirupsen/logrus"
)

// Uplink is the exclusively-owned TCP session to the offshore peer. Callers
// must serialize their own use of the codec returned by Ensure; Uplink only guarantees
// that exactly one dial happens at a time and that a poisoned link gets
// redialed on next use.
type Uplink struct {
	addr string

	mu    sync.Mutex
	dial  func(ctx context.Context, addr string) (net.Conn, error)
	conn  net.Conn
	codec *frame.Codec
}

// New returns an Uplink that lazily connects to addr using net.Dialer on
// first use.
func New(addr string) *Uplink {
	return &Uplink{
		addr: addr,
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

// Ensure returns the live codec for the uplink, dialing if necessary. If a
// dial is already in flight when Ensure is called, the caller blocks on the
// mutex and observes the result of that dial rather than starting a second
// one. There is exactly one connection-creation guard for the whole
// process.
func (u *Uplink) Ensure(ctx context.Context) (*frame.Codec, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.codec != nil {
		return u.codec, nil
	}

	logrus.WithField("addr", u.addr).Debug("uplink: dialing offshore")
	conn, err := u.dial(ctx, u.addr)
	if err != nil {
		return nil, fmt.Errorf("uplink: dial %s: %w", u.addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	u.conn = conn
	u.codec = frame.New(conn)
	logrus.WithField("addr", u.addr).Debug("uplink: connected")
	return u.codec, nil
}

// Invalidate poisons the current handle so the next Ensure call redials.
// Called after any LinkClosed or MalformedFrame condition.
func (u *Uplink) Invalidate() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn != nil {
		_ = u.conn.Close()
	}
	u.conn = nil
	u.codec = nil
}

// Close closes the current connection, if any. It does not stop a later
// Ensure call from dialing again.
func (u *Uplink) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.conn == nil {
		return nil
	}
	err := u.conn.Close()
	u.conn = nil
	u.codec = nil
	return err
}
