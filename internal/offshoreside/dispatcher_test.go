package offshoreside

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"

	"github.com/shipoffshore/tunnel/internal/frame"
	"github.com/shipoffshore/tunnel/internal/httpexec"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	resp *httpexec.Response
	err  error
}

func (f *fakeExecutor) Do(ctx context.Context, method, url string, headers map[string]string, body []byte) (*httpexec.Response, error) {
	return f.resp, f.err
}

func splitHostPortInt(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return host, port
}

func TestDispatcherHTTPRequestSuccess(t *testing.T) {
	shipConn, offshoreConn := net.Pipe()
	defer shipConn.Close()

	exec := &fakeExecutor{resp: &httpexec.Response{StatusCode: 200, Headers: map[string]string{"Content-Type": "text/plain"}, Body: []byte("hello")}}
	d := newDispatcher(offshoreConn, exec)
	go d.run()

	shipCodec := frame.New(shipConn)
	require.NoError(t, shipCodec.WriteFrame(frame.NewHTTPRequest("GET", "http://example.com/", map[string]string{"Host": "example.com"}, nil)))

	resp, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeHTTPResponse, resp.Type())
	require.Equal(t, 200, resp.StatusCode())
	require.Equal(t, []byte("hello"), resp.Body)
}

func TestDispatcherHTTPRequestFailure_Synthesizes502(t *testing.T) {
	shipConn, offshoreConn := net.Pipe()
	defer shipConn.Close()

	exec := &fakeExecutor{err: errors.New("dns lookup failed")}
	d := newDispatcher(offshoreConn, exec)
	go d.run()

	shipCodec := frame.New(shipConn)
	require.NoError(t, shipCodec.WriteFrame(frame.NewHTTPRequest("GET", "http://bad.example/", nil, nil)))

	resp, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, 502, resp.StatusCode())
	require.Equal(t, "Bad Gateway", string(resp.Body))
	require.Equal(t, "11", resp.StringHeaders()["Content-Length"])
}

func TestDispatcherConnectTunnelFidelity(t *testing.T) {
	targetLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer targetLn.Close()

	go func() {
		conn, err := targetLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 2)
		n, _ := conn.Read(buf)
		if n == 2 {
			conn.Write([]byte{buf[1], buf[0]}) // echo "AB" back as "BA"
		}
	}()

	shipConn, offshoreConn := net.Pipe()
	defer shipConn.Close()

	d := newDispatcher(offshoreConn, &fakeExecutor{})
	go d.run()

	host, port := splitHostPortInt(t, targetLn.Addr().String())

	shipCodec := frame.New(shipConn)
	require.NoError(t, shipCodec.WriteFrame(frame.NewConnect(host, port)))

	ok, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeConnectOK, ok.Type())

	require.NoError(t, shipCodec.WriteFrame(frame.NewData([]byte("AB"))))

	dataBack, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeData, dataBack.Type())
	require.Equal(t, []byte("BA"), dataBack.Body)

	require.NoError(t, shipCodec.WriteFrame(frame.NewDataEnd()))

	dataEnd, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeDataEnd, dataEnd.Type())
}

func TestDispatcherConnectDialFailure(t *testing.T) {
	// bind then immediately close to get a port nothing is listening on
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	shipConn, offshoreConn := net.Pipe()
	defer shipConn.Close()

	d := newDispatcher(offshoreConn, &fakeExecutor{})
	go d.run()

	host, port := splitHostPortInt(t, addr)

	shipCodec := frame.New(shipConn)
	require.NoError(t, shipCodec.WriteFrame(frame.NewConnect(host, port)))

	errFrame, err := shipCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeError, errFrame.Type())
	require.NotEmpty(t, errFrame.Message())
}
