package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"net"

	"github.com/mash-protocol/starttls-go/pkg/event"
)

// Secure is a TLS session over the socket of a released Plain transport.
//
// The handshake runs on the transport's own goroutine after Start. On
// success the server side emits Secure and the client side emits
// SecureConnect; data events follow. Socket-level failures are reported
// through the raw transport's emitter, TLS-level failures through this
// one, so a listener on each sees every failure exactly once.
type Secure struct {
	core

	raw      *Plain
	settings *Settings
	tlsConn  *tls.Conn

	result      Result
	established bool
}

// NewSecure releases raw and layers a TLS session over its socket. Bytes
// raw had read but not delivered are fed to the session first.
func NewSecure(raw *Plain, settings *Settings) (*Secure, error) {
	if settings == nil || settings.Config == nil {
		return nil, ErrNoSettings
	}

	conn, leftover, err := raw.Release()
	if err != nil {
		return nil, err
	}

	var base net.Conn = conn
	if len(leftover) > 0 {
		base = &prefixConn{Conn: conn, prefix: leftover}
	}

	var tlsConn *tls.Conn
	if settings.Server {
		tlsConn = tls.Server(base, settings.Config)
	} else {
		tlsConn = tls.Client(base, settings.Config)
	}

	s := &Secure{
		raw:      raw,
		settings: settings,
		tlsConn:  tlsConn,
	}
	s.init(KindSecure)
	s.conn = tlsConn
	s.socket = conn
	s.keepAlive = raw.KeepAlive()
	s.routeError = s.routeToRaw
	s.onFinish = raw.notifyClose
	return s, nil
}

// Start runs the handshake in the background.
func (s *Secure) Start() {
	s.mu.Lock()
	if s.pumpStarted || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.pumpStarted = true
	s.mu.Unlock()

	go s.run()
}

func (s *Secure) run() {
	ctx := context.Background()
	if t := s.settings.HandshakeTimeout; t > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}

	if err := s.tlsConn.HandshakeContext(ctx); err != nil {
		s.handshakeFailed(err)
		return
	}

	result := newResult(s.tlsConn.ConnectionState(), s.settings)
	if s.settings.RejectUnauthorized && result.AuthorizationError != nil {
		s.handshakeFailed(result.AuthorizationError)
		return
	}

	s.mu.Lock()
	destroyed := s.destroyed
	s.result = result
	s.established = true
	s.mu.Unlock()
	if destroyed {
		s.finish(false)
		return
	}

	s.out.start(s.tlsConn)

	name := event.SecureConnect
	if s.settings.Server {
		name = event.Secure
	}
	s.events.Emit(event.Event{Name: name})

	s.readLoop()
}

func (s *Secure) handshakeFailed(err error) {
	s.mu.Lock()
	destroyed := s.destroyed
	s.mu.Unlock()
	if destroyed {
		s.finish(false)
		return
	}

	var authErr *AuthorizationError
	if !errors.As(err, &authErr) {
		err = &HandshakeError{Err: err}
	}
	s.fail(err)
	s.finish(true)
}

// routeToRaw reports socket failures on the raw transport.
func (s *Secure) routeToRaw(err error) bool {
	if !isSocketError(err) {
		return false
	}
	s.raw.notifyError(err)
	return true
}

// Raw returns the released cleartext transport.
func (s *Secure) Raw() *Plain { return s.raw }

// IsServer reports whether this is the accepting side.
func (s *Secure) IsServer() bool { return s.settings.Server }

// Established reports whether the handshake completed.
func (s *Secure) Established() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.established
}

// Result returns the handshake outcome. It is the zero Result until the
// handshake completes.
func (s *Secure) Result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result
}

// ConnectionState returns the TLS session state.
func (s *Secure) ConnectionState() tls.ConnectionState {
	return s.tlsConn.ConnectionState()
}

// prefixConn replays bytes read ahead of the TLS layer before reading the
// connection itself. Only the session goroutine reads from it.
type prefixConn struct {
	net.Conn
	prefix []byte
}

func (c *prefixConn) Read(p []byte) (int, error) {
	if len(c.prefix) > 0 {
		n := copy(p, c.prefix)
		c.prefix = c.prefix[n:]
		return n, nil
	}
	return c.Conn.Read(p)
}
