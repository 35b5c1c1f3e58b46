// Package offshoreside implements the Offshore half of the tunnel: the
// per-uplink dispatcher and its CONNECT bridge.
package offshoreside

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/shipoffshore/tunnel/internal/frame"
	"github.com/shipoffshore/tunnel/internal/httpexec"
	"github.com/sirupsen/logrus"
)

const badGatewayBody = "Bad Gateway"

// dispatcher reads frames from one accepted uplink connection sequentially
// and routes them to the HTTP executor or the TCP dialer. It never reads
// ahead: exactly one frame's worth of work is in flight at a time, matching
// the Ship serializer's own invariant.
type dispatcher struct {
	conn     net.Conn
	codec    *frame.Codec
	executor httpexec.Executor
	dialer   net.Dialer
}

func newDispatcher(conn net.Conn, executor httpexec.Executor) *dispatcher {
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	return &dispatcher{conn: conn, codec: frame.New(conn), executor: executor}
}

// run processes frames until the uplink closes or a codec error poisons it.
func (d *dispatcher) run() {
	defer d.conn.Close()

	for {
		f, err := d.codec.ReadFrame()
		if err != nil {
			logrus.WithError(err).Debug("offshore dispatcher: uplink closed")
			return
		}

		switch f.Type() {
		case frame.TypeHTTPRequest:
			d.handleHTTPRequest(f)
		case frame.TypeConnect:
			if err := d.handleConnect(f); err != nil {
				logrus.WithError(err).Warn("offshore dispatcher: tunnel ended with error, poisoning uplink")
				return
			}
		default:
			logrus.WithField("type", f.Type()).Warn("offshore dispatcher: ignoring unrecognized frame type")
		}
	}
}

// handleHTTPRequest performs the outbound HTTP call and emits an
// HTTPResponse frame, synthesizing a 502 on any executor failure.
func (d *dispatcher) handleHTTPRequest(f frame.Frame) {
	log := logrus.WithFields(logrus.Fields{"method": f.Method(), "url": f.URL()})

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	resp, err := d.executor.Do(ctx, f.Method(), f.URL(), f.StringHeaders(), f.Body)
	if err != nil {
		log.WithError(err).Warn("offshore dispatcher: outbound HTTP failed, synthesizing 502")
		out := frame.NewHTTPResponse(502, map[string]string{"Content-Length": "11"}, []byte(badGatewayBody))
		if werr := d.codec.WriteFrame(out); werr != nil {
			logrus.WithError(werr).Error("offshore dispatcher: failed to write synthetic 502")
		}
		return
	}

	log.WithField("status", resp.StatusCode).Debug("offshore dispatcher: outbound HTTP succeeded")
	out := frame.NewHTTPResponse(resp.StatusCode, resp.Headers, resp.Body)
	if err := d.codec.WriteFrame(out); err != nil {
		logrus.WithError(err).Error("offshore dispatcher: failed to write HTTPResponse")
	}
}

// handleConnect dials the target and, on success, bridges uplink<->target
// until the tunnel ends. A dial failure is reported as an ERROR frame and
// the dispatch loop resumes; it is not fatal to the uplink.
func (d *dispatcher) handleConnect(f frame.Frame) error {
	addr := fmt.Sprintf("%s:%d", f.Host(), f.Port())
	log := logrus.WithField("target", addr)

	target, err := d.dialer.Dial("tcp", addr)
	if err != nil {
		log.WithError(err).Warn("offshore dispatcher: CONNECT dial failed")
		return d.codec.WriteFrame(frame.NewError(err.Error()))
	}
	defer target.Close()

	if tc, ok := target.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}

	if err := d.codec.WriteFrame(frame.NewConnectOK()); err != nil {
		return fmt.Errorf("offshore dispatcher: write CONNECT_OK: %w", err)
	}

	log.Debug("offshore dispatcher: tunnel established")
	return runTunnel(d.codec, target)
}
