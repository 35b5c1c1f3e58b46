package offshoreside

import (
	"net"

	"github.com/shipoffshore/tunnel/internal/httpexec"
	"github.com/sirupsen/logrus"
)

// Server accepts incoming uplink connections from Ship and runs one
// dispatcher per connection, modeled on the tcpfwd.TCPProxy.Run accept loop.
type Server struct {
	listener net.Listener
	executor httpexec.Executor
}

// NewServer binds listenAddr for incoming Ship connections.
func NewServer(listenAddr string, executor httpexec.Executor) (*Server, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, err
	}
	if executor == nil {
		executor = httpexec.NewStdlibExecutor(0)
	}
	return &Server{listener: ln, executor: executor}, nil
}

// Addr returns the bound listen address.
func (s *Server) Addr() net.Addr { return s.listener.Addr() }

// Run accepts connections until the listener is closed, running one
// dispatcher goroutine per ship connection.
func (s *Server) Run() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			logrus.WithError(err).Debug("offshore server: listener closed")
			return
		}

		logrus.WithField("remote", conn.RemoteAddr()).Debug("offshore server: ship connected")
		go newDispatcher(conn, s.executor).run()
	}
}

// Close stops accepting new ship connections.
func (s *Server) Close() error {
	return s.listener.Close()
}
