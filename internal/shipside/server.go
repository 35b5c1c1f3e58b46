// Package shipside implements the Ship half of the tunnel: acceptor,
// serialized uplink, and CONNECT bridge.
package shipside

import (
	"net"
	"time"

	"github.com/shipoffshore/tunnel/internal/uplink"
)

const defaultAcceptorPoolSize = 64

// Server ties together the acceptor, the work queue, and the serializer
// into the running Ship proxy process.
type Server struct {
	acceptor   *acceptor
	serializer *serializer
}

// Options configures a Server.
type Options struct {
	ListenAddr     string
	OffshoreAddr   string
	RequestTimeout time.Duration
	AcceptorPool   int
}

// NewServer binds the listen address and prepares (but does not dial) the
// uplink. The uplink is established lazily on the first work item.
func NewServer(opts Options) (*Server, error) {
	poolSize := opts.AcceptorPool
	if poolSize <= 0 {
		poolSize = defaultAcceptorPoolSize
	}

	queue := newWorkQueue()
	a, err := newAcceptor(opts.ListenAddr, queue, poolSize)
	if err != nil {
		return nil, err
	}

	up := uplink.New(opts.OffshoreAddr)
	s := newSerializer(up, queue, opts.RequestTimeout)

	return &Server{acceptor: a, serializer: s}, nil
}

// Addr returns the bound listen address (useful in tests with port 0).
func (s *Server) Addr() net.Addr { return s.acceptor.addr() }

// Run starts the serializer and blocks accepting client connections until
// the listener is closed.
func (s *Server) Run() {
	go s.serializer.run()
	s.acceptor.run()
}

// Close shuts down the acceptor and its parse pool. The serializer drains
// whatever is already queued and then exits once the queue closes.
func (s *Server) Close() error {
	err := s.acceptor.close()
	s.acceptor.queue.close()
	return err
}
