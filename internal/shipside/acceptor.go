package shipside

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/alitto/pond"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// ClientProtocolError marks a malformed client request head: the client
// socket is closed silently, no uplink traffic occurs.
type ClientProtocolError struct{ reason string }

func (e *ClientProtocolError) Error() string { return "ship: client protocol error: " + e.reason }

// acceptor accepts local HTTP proxy clients and parses one request per
// connection, handing the parsed work to the serializer's queue without
// ever touching the uplink itself.
type acceptor struct {
	listener net.Listener
	queue    *workQueue
	pool     *pond.WorkerPool
}

// newAcceptor binds listenAddr and prepares a bounded parse pool. The pool
// bounds the number of concurrently in-flight head-parses (a resource the
// distilled spec leaves unbounded) without affecting FIFO order: items
// still land on the queue in parse-completion order, and the uplink itself
// remains strictly one-at-a-time downstream.
func newAcceptor(listenAddr string, queue *workQueue, poolSize int) (*acceptor, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	return &acceptor{
		listener: ln,
		queue:    queue,
		pool:     pond.New(poolSize, poolSize*4),
	}, nil
}

func (a *acceptor) addr() net.Addr { return a.listener.Addr() }

func (a *acceptor) close() error {
	a.pool.StopAndWait()
	return a.listener.Close()
}

// run accepts connections until the listener is closed.
func (a *acceptor) run() {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			logrus.WithError(err).Debug("ship acceptor: listener closed")
			return
		}

		a.pool.Submit(func() {
			a.handleConn(conn)
		})
	}
}

func (a *acceptor) handleConn(conn net.Conn) {
	req, err := parseRequestHead(conn)
	if err != nil {
		logrus.WithError(err).Debug("ship acceptor: dropping malformed client request")
		conn.Close()
		return
	}

	logrus.WithFields(logrus.Fields{
		"trace": req.traceID,
		"kind":  req.kind,
	}).Debug("ship acceptor: enqueuing parsed request")
	a.queue.push(req)
}

// parseRequestHead reads the request line, headers, and (for non-CONNECT
// requests) a Content-Length body.
func parseRequestHead(conn net.Conn) (*pendingRequest, error) {
	br := bufio.NewReader(conn)

	line, err := br.ReadString('\n')
	if err != nil {
		return nil, &ClientProtocolError{reason: "failed to read request line: " + err.Error()}
	}
	line = strings.TrimRight(line, "\r\n")

	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 3 {
		return nil, &ClientProtocolError{reason: "malformed request line: " + line}
	}
	method, target := strings.ToUpper(parts[0]), parts[1]

	headers := map[string]string{}
	for {
		hline, err := br.ReadString('\n')
		if err != nil {
			return nil, &ClientProtocolError{reason: "failed to read headers: " + err.Error()}
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		k, v, ok := strings.Cut(hline, ":")
		if !ok {
			continue
		}
		k = strings.TrimSpace(k)
		if _, exists := headers[k]; !exists {
			headers[k] = strings.TrimSpace(v)
		}
	}

	req := &pendingRequest{traceID: ulid.Make().String(), client: conn}

	if method == "CONNECT" {
		host, port, err := splitHostPort(target)
		if err != nil {
			return nil, &ClientProtocolError{reason: "bad CONNECT target: " + target}
		}
		req.kind = kindConnect
		req.host = host
		req.port = port
		return req, nil
	}

	if te, ok := lookupHeader(headers, "Transfer-Encoding"); ok && strings.EqualFold(strings.TrimSpace(te), "chunked") {
		return nil, &ClientProtocolError{reason: "chunked request bodies are not supported"}
	}

	var body []byte
	if cl, ok := lookupHeader(headers, "Content-Length"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(cl))
		if err == nil && n > 0 {
			body = make([]byte, n)
			if _, err := io.ReadFull(br, body); err != nil {
				return nil, &ClientProtocolError{reason: "short request body: " + err.Error()}
			}
		}
	}

	req.kind = kindHTTP
	req.method = method
	req.url = target
	req.headers = headers
	req.body = body
	return req, nil
}

// lookupHeader performs a case-insensitive lookup: HTTP/1.1 header matching
// is case-insensitive even though the parsed dictionary itself preserves
// received casing.
func lookupHeader(headers map[string]string, key string) (string, bool) {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

func splitHostPort(target string) (string, int, error) {
	if !strings.Contains(target, ":") {
		return target, 443, nil
	}
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
