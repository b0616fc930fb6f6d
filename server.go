package isles

import (
	"net"
)

// PeerFactory builds the Peer (or Peer-embedding type) that should handle
// one accepted connection. The default is NewPeer; a Server wrapping a
// derived type such as Peerthrough supplies its own.
type PeerFactory func(conn net.Conn) *Peer

// acceptedConn is handed from the listener goroutine to the server isle's
// own tick via a buffered channel.
type acceptedConn struct {
	conn net.Conn
	err  error
}

// Server is an Isle that accepts socket connections and, for each one,
// asks the Manager to admit a freshly constructed Peer. Accept runs on its
// own goroutine feeding a channel, so the isle's own tick loop never blocks
// waiting on a new connection and stays responsive to shutdown.
type Server struct {
	*Isle

	listener net.Listener
	peer     PeerFactory
	accepted chan acceptedConn
	managerAddr []string
}

// ServerOption configures a Server at construction time, layered on top of
// the underlying Isle's Option.
type ServerOption func(*Server)

// WithPeerFactory overrides how accepted connections are turned into Peer
// isles. The default is NewPeer with no extra options.
func WithPeerFactory(f PeerFactory) ServerOption {
	return func(s *Server) { s.peer = f }
}

// NewServer listens on network/address and returns a Server isle. managerID
// is the address this server addresses its addIsle commands to (normally
// the Manager's own id).
func NewServer(network, address, managerID string, serverOpts []ServerOption, isleOpts ...Option) (*Server, error) {
	listener, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}

	s := &Server{
		listener:    listener,
		peer:        func(conn net.Conn) *Peer { return NewPeer(conn) },
		accepted:    make(chan acceptedConn, 16),
		managerAddr: []string{managerID},
	}

	for _, opt := range serverOpts {
		opt(s)
	}

	s.Isle = NewIsle("", isleOpts...)
	s.Isle.loopFunc = s.loop
	s.Isle.shutdownFunc = func(*Isle) { s.listener.Close() }

	go s.acceptLoop()

	return s, nil
}

// acceptLoop runs for the server's lifetime on its own goroutine, blocking
// on Accept and forwarding each result (including the terminal error once
// the listener is closed) onto the accepted channel.
func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		s.accepted <- acceptedConn{conn: conn, err: err}
		if err != nil {
			return
		}
	}
}

// loop is the server isle's per-tick hook: drain whatever connections have
// been accepted since the last tick and ask the manager to admit a Peer for
// each.
func (s *Server) loop(i *Isle) {
	for {
		select {
		case accepted := <-s.accepted:
			if accepted.err != nil {
				i.Stop()
				return
			}
			s.peerIsleCreation(accepted.conn)
		default:
			return
		}
	}
}

func (s *Server) peerIsleCreation(conn net.Conn) {
	peer := s.peer(conn)
	packet := s.Isle.CreatePacket(s.managerAddr, map[string]interface{}{
		"command": "addIsle",
		"isle":    peer.Isle,
	})
	s.Isle.SendPacket(packet)
}
