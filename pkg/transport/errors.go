package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Transport errors.
var (
	ErrClosed                = errors.New("transport closed")
	ErrNotConnected          = errors.New("transport not connected")
	ErrReleased              = errors.New("transport released")
	ErrNoCertificate         = errors.New("server certificate is required")
	ErrUnknownSecureProtocol = errors.New("unknown secure protocol")
	ErrNoProtocolVersion     = errors.New("no TLS protocol version left enabled")
	ErrNoSettings            = errors.New("TLS settings are required")
)

// TransportError is an I/O failure on a socket.
type TransportError struct {
	// Op is the operation that failed (dial, read, write, handshake).
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HandshakeError is a TLS negotiation failure that aborted the handshake.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("TLS handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error { return e.Err }

// isSocketError reports whether err originates below TLS, on the socket
// itself rather than in the record or handshake layer.
func isSocketError(err error) bool {
	var opErr *net.OpError
	switch {
	case errors.As(err, &opErr):
		return true
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return true
	case errors.Is(err, io.ErrClosedPipe), errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}
