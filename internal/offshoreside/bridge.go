package offshoreside

import (
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/shipoffshore/tunnel/internal/frame"
)

// ErrUnexpectedFrameType mirrors shipside's: any non-DATA/DATA_END frame
// arriving during tunnel mode poisons the uplink.
var ErrUnexpectedFrameType = errors.New("offshore bridge: unexpected frame type during tunnel")

// halfCloser is satisfied by *net.TCPConn; used to half-close the target's
// write side on DATA_END without tearing down the read side, matching the
// tcpfwd.FullDuplexConn pattern.
type halfCloser interface {
	CloseWrite() error
}

// runTunnel runs the Offshore side of a CONNECT bridge: symmetric to
// shipside's bridge, with the framed uplink on one end and the raw target
// socket (instead of the raw client) on the other.
func runTunnel(codec *frame.Codec, target net.Conn) error {
	errc := make(chan error, 2)
	go func() { errc <- pumpUplinkToTarget(codec, target) }()
	go func() { errc <- pumpTargetToUplink(codec, target) }()

	err1 := <-errc
	err2 := <-errc
	if err1 != nil {
		return err1
	}
	return err2
}

// pumpUplinkToTarget forwards DATA payloads to the target and half-closes
// its write side on DATA_END.
func pumpUplinkToTarget(codec *frame.Codec, target net.Conn) error {
	for {
		f, err := codec.ReadFrame()
		if err != nil {
			return fmt.Errorf("offshore bridge: uplink->target read: %w", err)
		}

		switch f.Type() {
		case frame.TypeData:
			if len(f.Body) > 0 {
				if _, err := target.Write(f.Body); err != nil {
					return fmt.Errorf("offshore bridge: uplink->target write: %w", err)
				}
			}
		case frame.TypeDataEnd:
			if hc, ok := target.(halfCloser); ok {
				_ = hc.CloseWrite()
			} else {
				_ = target.Close()
			}
			return nil
		default:
			return ErrUnexpectedFrameType
		}
	}
}

// pumpTargetToUplink reads from the target and emits DATA frames, ending
// with a single DATA_END. This is the only goroutine writing to the uplink
// during an offshore-side tunnel.
func pumpTargetToUplink(codec *frame.Codec, target net.Conn) error {
	buf := make([]byte, 4096)
	for {
		n, err := target.Read(buf)
		if n > 0 {
			if werr := codec.WriteFrame(frame.NewData(buf[:n])); werr != nil {
				return fmt.Errorf("offshore bridge: target->uplink write: %w", werr)
			}
		}
		if err != nil {
			if werr := codec.WriteFrame(frame.NewDataEnd()); werr != nil {
				return fmt.Errorf("offshore bridge: target->uplink DATA_END: %w", werr)
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return nil
		}
	}
}
