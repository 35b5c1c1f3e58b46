package shipside

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/shipoffshore/tunnel/internal/frame"
)

// ErrUnexpectedFrameType is TunnelPeerEnded's opposite: an uplink frame
// arrived during tunnel mode that wasn't DATA or DATA_END, which poisons
// the uplink.
var ErrUnexpectedFrameType = errors.New("ship bridge: unexpected frame type during tunnel")

// runTunnel runs the Ship side of a CONNECT bridge: two duplex sub-tasks,
// joined at tunnel end, modeled on the tcpfwd.Pump2 errChan-join idiom but
// framed on one side instead of raw io.Copy, since only one side of this
// duplex is the shared uplink.
func runTunnel(codec *frame.Codec, client net.Conn) error {
	errc := make(chan error, 2)
	go func() { errc <- pumpClientToUplink(codec, client) }()
	go func() { errc <- pumpUplinkToClient(codec, client) }()

	err1 := <-errc
	err2 := <-errc
	if err1 != nil {
		return err1
	}
	return err2
}

// pumpClientToUplink reads from the client and emits DATA frames, ending
// with a single DATA_END. It is the only goroutine that writes to the
// uplink during a tunnel, preserving the no-concurrent-writers guarantee.
func pumpClientToUplink(codec *frame.Codec, client net.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, err := client.Read(buf)
		if n > 0 {
			if werr := codec.WriteFrame(frame.NewData(buf[:n])); werr != nil {
				return fmt.Errorf("ship bridge: client->uplink write: %w", werr)
			}
		}
		if err != nil {
			if werr := codec.WriteFrame(frame.NewDataEnd()); werr != nil {
				return fmt.Errorf("ship bridge: client->uplink DATA_END: %w", werr)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return nil // client-side read errors end this direction, not the uplink
		}
	}
}

// pumpUplinkToClient reads frames from the uplink and writes DATA payloads
// to the client until DATA_END.
func pumpUplinkToClient(codec *frame.Codec, client net.Conn) error {
	for {
		f, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("ship bridge: uplink->client read: %w", err)
		}

		switch f.Type() {
		case frame.TypeData:
			if len(f.Body) > 0 {
				if _, err := client.Write(f.Body); err != nil {
					return fmt.Errorf("ship bridge: uplink->client write: %w", err)
				}
			}
		case frame.TypeDataEnd:
			return nil
		default:
			return ErrUnexpectedFrameType
		}
	}
}
