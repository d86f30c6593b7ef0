package nats

import (
	"os"
	"sync"

	natsgo "github.com/nats-io/nats.go"
)

type closeFunc = func()

// Connector opens a NATS connection. The returned close releases it.
type Connector func() (nc *natsgo.Conn, close closeFunc, err error)

// sharedConn reference-counts one underlying connection across leases.
type sharedConn struct {
	mu      sync.Mutex
	connect Connector
	nc      *natsgo.Conn
	closeNc closeFunc
	leases  int
}

func (s *sharedConn) lease() (*natsgo.Conn, closeFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.nc == nil {
		nc, closeNc, err := s.connect()
		if err != nil {
			return nil, nil, err
		}
		s.nc, s.closeNc = nc, closeNc
	}
	s.leases++
	return s.nc, s.release, nil
}

func (s *sharedConn) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.leases--
	if s.leases == 0 {
		s.closeNc()
		s.nc = nil
	}
}

// ReuseConnection shares one connection between all callers of the returned
// connector. The connection closes when the last lease is released.
func ReuseConnection(connect Connector) Connector {
	s := &sharedConn{connect: connect}
	return s.lease
}

func ConnectURL(natsURL string) Connector {
	return func() (*natsgo.Conn, closeFunc, error) {
		nc, err := natsgo.Connect(
			natsURL,
			natsgo.Name("cqrs"),
			natsgo.MaxReconnects(3),
		)
		if err != nil {
			return nil, nil, err
		}
		return nc, func() { nc.Close() }, nil
	}
}

// ConnectDefault connects to NATS_URL when set, the local default otherwise.
func ConnectDefault() Connector {
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		return ConnectURL(natsURL)
	}
	return ConnectURL(natsgo.DefaultURL)
}
