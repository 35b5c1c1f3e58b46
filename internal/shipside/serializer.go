package shipside

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/shipoffshore/tunnel/internal/frame"
	"github.com/shipoffshore/tunnel/internal/uplink"
	"github.com/sirupsen/logrus"
)

const clientReadBufSize = 4096

// badGatewayBody is the exact payload for synthetic 502s: "Bad Gateway" is
// 11 bytes, matching the Content-Length the offshore side also hardcodes
// for its own synthetic 502.
const badGatewayBody = "Bad Gateway"

// serializer is the single long-lived task with exclusive write access to
// the uplink. It drains the work queue one item at a time; nothing else in
// this process ever writes to the uplink outside of a tunnel's
// client-to-uplink sub-task, and that sub-task only runs while the
// serializer itself is blocked inside handleConnect.
type serializer struct {
	up             *uplink.Uplink
	queue          *workQueue
	requestTimeout time.Duration
}

func newSerializer(up *uplink.Uplink, queue *workQueue, requestTimeout time.Duration) *serializer {
	return &serializer{up: up, queue: queue, requestTimeout: requestTimeout}
}

func (s *serializer) run() {
	for {
		req, ok := s.queue.pop()
		if !ok {
			return
		}
		s.process(req)
	}
}

func (s *serializer) process(req *pendingRequest) {
	log := logrus.WithField("trace", req.traceID)

	ctx := context.Background()
	var cancel context.CancelFunc
	if s.requestTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
		defer cancel()
	}

	codec, err := s.up.Ensure(ctx)
	if err != nil {
		log.WithError(err).Warn("ship serializer: uplink unavailable")
		writeBadGateway(req.client)
		req.client.Close()
		return
	}

	switch req.kind {
	case kindHTTP:
		s.handleHTTP(ctx, log, codec, req)
	case kindConnect:
		s.handleConnect(ctx, log, codec, req)
	}
}

// handleHTTP writes one HTTPRequest frame and translates the matching
// HTTPResponse frame back into an HTTP/1.1 response on the client socket.
func (s *serializer) handleHTTP(ctx context.Context, log *logrus.Entry, codec *frame.Codec, req *pendingRequest) {
	defer req.client.Close()

	start := time.Now()
	if err := codec.WriteFrame(frame.NewHTTPRequest(req.method, req.url, req.headers, req.body)); err != nil {
		log.WithError(err).Error("ship serializer: uplink write failed, poisoning link")
		s.up.Invalidate()
		writeBadGateway(req.client)
		return
	}

	resp, err := s.readResponseWithDeadline(ctx, codec)
	if err != nil || resp.Type() != frame.TypeHTTPResponse {
		if err != nil {
			log.WithError(err).Warn("ship serializer: offshore response failed")
			// a timeout whose drain read succeeded leaves the link aligned
			if !errors.Is(err, context.DeadlineExceeded) {
				s.up.Invalidate()
			}
		} else {
			log.WithField("got", resp.Type()).Warn("ship serializer: unexpected frame type for HTTP response")
		}
		writeBadGateway(req.client)
		return
	}

	writeHTTPResponse(req.client, resp.StatusCode(), resp.StringHeaders(), resp.Body)
	log.WithFields(logrus.Fields{
		"method":   req.method,
		"url":      req.url,
		"status":   resp.StatusCode(),
		"duration": time.Since(start),
	}).Debug("ship serializer: completed HTTP request")
}

// readResponseWithDeadline waits for the next frame, honoring ctx's
// deadline. On timeout it still performs exactly one drain read so framing
// stays aligned for the next work item, discards the drained frame, and
// returns an error wrapping ctx.Err(); the caller's 502 therefore goes out
// once that drain read returns.
func (s *serializer) readResponseWithDeadline(ctx context.Context, codec *frame.Codec) (frame.Frame, error) {
	type result struct {
		f   frame.Frame
		err error
	}
	done := make(chan result, 1)
	go func() {
		f, err := codec.ReadFrame()
		done <- result{f, err}
	}()

	select {
	case r := <-done:
		return r.f, r.err
	case <-ctx.Done():
		r := <-done // drain so the next request doesn't desynchronize
		if r.err != nil {
			return frame.Frame{}, fmt.Errorf("request timed out, drain also failed: %w", r.err)
		}
		return frame.Frame{}, fmt.Errorf("request timed out: %w", ctx.Err())
	}
}

// handleConnect writes one CONNECT frame, waits for CONNECT_OK, replies to
// the client with a 200 Connection Established, and then runs the duplex
// tunnel until both directions have ended.
func (s *serializer) handleConnect(ctx context.Context, log *logrus.Entry, codec *frame.Codec, req *pendingRequest) {
	if err := codec.WriteFrame(frame.NewConnect(req.host, req.port)); err != nil {
		log.WithError(err).Error("ship serializer: uplink write failed, poisoning link")
		s.up.Invalidate()
		writeBadGateway(req.client)
		req.client.Close()
		return
	}

	resp, err := codec.ReadFrame()
	if err != nil || resp.Type() != frame.TypeConnectOK {
		if err != nil {
			log.WithError(err).Warn("ship serializer: offshore CONNECT reply failed")
			s.up.Invalidate()
		} else {
			log.WithField("got", resp.Type()).Warn("ship serializer: offshore refused CONNECT")
		}
		writeBadGateway(req.client)
		req.client.Close()
		return
	}

	if _, err := req.client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		log.WithError(err).Debug("ship serializer: failed to write 200 to client")
		req.client.Close()
		return
	}

	log.WithFields(logrus.Fields{"host": req.host, "port": req.port}).Debug("ship serializer: tunnel established")
	if err := runTunnel(codec, req.client); err != nil {
		log.WithError(err).Debug("ship serializer: tunnel ended with error")
		s.up.Invalidate()
	}
	req.client.Close()
}

func writeBadGateway(conn net.Conn) {
	_, _ = conn.Write([]byte(fmt.Sprintf("HTTP/1.1 502 Bad Gateway\r\nContent-Length: %d\r\n\r\n%s", len(badGatewayBody), badGatewayBody)))
}

// writeHTTPResponse translates an HTTPResponse frame into an HTTP/1.1
// response on the wire, using a static "OK" reason phrase regardless of
// status code.
func writeHTTPResponse(conn net.Conn, status int, headers map[string]string, body []byte) {
	fmt.Fprintf(conn, "HTTP/1.1 %d OK\r\n", status)
	for k, v := range headers {
		fmt.Fprintf(conn, "%s: %s\r\n", k, v)
	}
	fmt.Fprint(conn, "\r\n")
	if len(body) > 0 {
		conn.Write(body)
	}
}
