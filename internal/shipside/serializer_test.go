package shipside

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/shipoffshore/tunnel/internal/frame"
	"github.com/shipoffshore/tunnel/internal/uplink"
	"github.com/stretchr/testify/require"
)

// fakeOffshore is a minimal in-process stand-in for the offshore peer: it
// accepts connections in a loop and hands each one to the test, which
// drives its codec directly.
type fakeOffshore struct {
	ln    net.Listener
	conns chan net.Conn
}

func newFakeOffshore(t *testing.T) *fakeOffshore {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	fo := &fakeOffshore{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			fo.conns <- conn
		}
	}()
	return fo
}

func (fo *fakeOffshore) acceptConn(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-fo.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("fake offshore: no connection accepted in time")
		return nil
	}
}

func (fo *fakeOffshore) acceptCodec(t *testing.T) *frame.Codec {
	t.Helper()
	return frame.New(fo.acceptConn(t))
}

func (fo *fakeOffshore) close() { fo.ln.Close() }

// readClientResponse reads until the serializer closes its end (EOF),
// accumulating every write the response is split across.
func readClientResponse(t *testing.T, client net.Conn) string {
	t.Helper()
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, _ := io.ReadAll(client)
	return string(data)
}

func TestSerializerHandleHTTP(t *testing.T) {
	fo := newFakeOffshore(t)
	defer fo.close()

	up := uplink.New(fo.ln.Addr().String())
	queue := newWorkQueue()
	s := newSerializer(up, queue, 0)

	client, server := net.Pipe()
	req := &pendingRequest{
		kind: kindHTTP, traceID: "t1", client: server,
		method: "GET", url: "http://example.com/", headers: map[string]string{"Host": "example.com"},
	}

	go s.process(req)

	offshoreCodec := fo.acceptCodec(t)
	reqFrame, err := offshoreCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeHTTPRequest, reqFrame.Type())
	require.Equal(t, "GET", reqFrame.Method())

	require.NoError(t, offshoreCodec.WriteFrame(frame.NewHTTPResponse(200, map[string]string{"Content-Type": "text/plain"}, []byte("hello"))))

	got := readClientResponse(t, client)
	require.Contains(t, got, "HTTP/1.1 200 OK\r\n")
	require.Contains(t, got, "Content-Type: text/plain\r\n")
	require.Contains(t, got, "hello")
}

func TestSerializerHandleHTTP_BadGatewayOnWrongFrameType(t *testing.T) {
	fo := newFakeOffshore(t)
	defer fo.close()

	up := uplink.New(fo.ln.Addr().String())
	queue := newWorkQueue()
	s := newSerializer(up, queue, 0)

	client, server := net.Pipe()
	req := &pendingRequest{kind: kindHTTP, traceID: "t2", client: server, method: "GET", url: "http://x/"}

	go s.process(req)

	offshoreCodec := fo.acceptCodec(t)
	_, err := offshoreCodec.ReadFrame()
	require.NoError(t, err)
	// respond with something other than HTTPResponse
	require.NoError(t, offshoreCodec.WriteFrame(frame.NewError("boom")))

	got := readClientResponse(t, client)
	require.Contains(t, got, "502 Bad Gateway")
	require.Contains(t, got, "Content-Length: 11")
}

func TestSerializerHandleConnect(t *testing.T) {
	fo := newFakeOffshore(t)
	defer fo.close()

	up := uplink.New(fo.ln.Addr().String())
	queue := newWorkQueue()
	s := newSerializer(up, queue, 0)

	client, server := net.Pipe()
	req := &pendingRequest{kind: kindConnect, traceID: "t3", client: server, host: "example.com", port: 443}

	done := make(chan struct{})
	go func() { s.process(req); close(done) }()

	offshoreCodec := fo.acceptCodec(t)
	connectFrame, err := offshoreCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeConnect, connectFrame.Type())
	require.Equal(t, "example.com", connectFrame.Host())
	require.Equal(t, 443, connectFrame.Port())

	require.NoError(t, offshoreCodec.WriteFrame(frame.NewConnectOK()))

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 128)
	n, _ := client.Read(buf)
	require.Contains(t, string(buf[:n]), "200 Connection Established")

	// client -> uplink: "AB"
	_, err = client.Write([]byte("AB"))
	require.NoError(t, err)
	dataFrame, err := offshoreCodec.ReadFrame()
	require.NoError(t, err)
	require.Equal(t, frame.TypeData, dataFrame.Type())
	require.Equal(t, []byte("AB"), dataFrame.Body)

	// offshore -> client: "BA"
	require.NoError(t, offshoreCodec.WriteFrame(frame.NewData([]byte("BA"))))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _ = client.Read(buf)
	require.Equal(t, "BA", string(buf[:n]))

	// close both directions
	client.Close()
	require.NoError(t, offshoreCodec.WriteFrame(frame.NewDataEnd()))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("tunnel did not end")
	}
}

func TestSerializerHandleConnectDialFailure(t *testing.T) {
	fo := newFakeOffshore(t)
	defer fo.close()

	up := uplink.New(fo.ln.Addr().String())
	queue := newWorkQueue()
	s := newSerializer(up, queue, 0)

	client, server := net.Pipe()
	req := &pendingRequest{kind: kindConnect, traceID: "t4", client: server, host: "unreachable.example", port: 443}

	go s.process(req)

	offshoreCodec := fo.acceptCodec(t)
	_, err := offshoreCodec.ReadFrame()
	require.NoError(t, err)
	require.NoError(t, offshoreCodec.WriteFrame(frame.NewError("connection refused")))

	got := readClientResponse(t, client)
	require.Contains(t, got, "502 Bad Gateway")
	require.Contains(t, got, "Content-Length: 11")
}
