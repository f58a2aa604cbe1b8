package transport

import (
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Listener accepts inbound TCP connections and wraps each as an incoming
// Conn. Grounded on src/net/tcp_transport.go's net.Listen/net.TCPListener
// setup and src/net/net_transport.go's Listen accept loop (one goroutine
// per accepted socket).
type Listener struct {
	listener net.Listener
	handler  NodeHandler
	recvTO   time.Duration
	sendTO   time.Duration
	logger   *logrus.Entry
}

// Listen binds bindAddr and returns a Listener ready to Serve.
func Listen(bindAddr string, handler NodeHandler, recvTO, sendTO time.Duration, logger *logrus.Entry) (*Listener, error) {
	ln, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, err
	}
	return &Listener{listener: ln, handler: handler, recvTO: recvTO, sendTO: sendTO, logger: logger}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// Serve accepts connections until the listener is closed, wrapping each one
// as an incoming Conn. Intended to run in its own goroutine.
func (l *Listener) Serve() {
	for {
		socket, err := l.listener.Accept()
		if err != nil {
			return
		}
		NewIncoming(socket, l.handler, l.recvTO, l.sendTO, l.logger)
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.listener.Close()
}
