package starttls

import (
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// Result is the outcome of a completed upgrade.
type Result = transport.Result

// forwarded lists the transport events a stream re-emits.
var forwarded = []event.Name{
	event.Data,
	event.Connect,
	event.Secure,
	event.End,
	event.Close,
	event.Drain,
	event.Error,
	event.Timeout,
}

// StreamConfig configures a Stream.
type StreamConfig struct {
	// Side selects the handshake role used by Upgrade.
	Side Side

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol capture events (optional).
	ProtocolLogger log.Logger

	// ConnID identifies the stream in logs. Defaults to a new UUID.
	ConnID string

	// Host is the server name a client expects during Upgrade. Defaults
	// to the remote host.
	Host string

	// SuppressSetupErrors drops socket errors raised while an upgrade is
	// in its setup state instead of re-emitting them.
	SuppressSetupErrors bool
}

// binding is one tracked subscription on a transport emitter.
type binding struct {
	emitter *event.Emitter
	name    event.Name
	sub     event.Subscription
}

// Stream is a duplex stream whose transport can be swapped in place.
type Stream struct {
	config StreamConfig
	id     string
	logger *slog.Logger
	proto  log.Logger

	events *event.Emitter

	// dispatchMu serialises listener invocation.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	active       transport.Transport
	bound        []binding
	state        UpgradeState
	upgrade      *upgrade
	bridge       *bridge
	result       *Result
	remoteAddr   net.Addr
	timeout      time.Duration
	timeoutSet   bool
	keepAlive    bool
	keepAliveSet bool
	destroyed    bool
	closeEmitted bool
}

// NewStream creates a stream bound to t. A nil t leaves the stream
// detached.
func NewStream(t transport.Transport, cfg StreamConfig) *Stream {
	id := cfg.ConnID
	if id == "" {
		id = uuid.New().String()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	proto := cfg.ProtocolLogger
	if proto == nil {
		proto = log.NoopLogger{}
	}

	s := &Stream{
		config: cfg,
		id:     id,
		logger: logger.With("conn_id", id, "side", cfg.Side.String()),
		proto:  proto,
		events: event.NewEmitter(),
		active: transport.NewDetached(),
	}
	if t != nil {
		_ = s.Attach(t)
	}
	return s
}

// ID returns the connection identifier.
func (s *Stream) ID() string { return s.id }

// Side returns the handshake role.
func (s *Stream) Side() Side { return s.config.Side }

// On registers fn for every stream event called name.
func (s *Stream) On(name event.Name, fn event.Listener) event.Subscription {
	return s.events.On(name, fn)
}

// Once registers fn for the next stream event called name.
func (s *Stream) Once(name event.Name, fn event.Listener) event.Subscription {
	return s.events.Once(name, fn)
}

// Off removes a stream listener.
func (s *Stream) Off(name event.Name, sub event.Subscription) bool {
	return s.events.Off(name, sub)
}

// Attach binds the stream to t. The stream must have been cleaned first;
// otherwise ErrStillBound is returned. Writes buffered while detached are
// flushed into t.
func (s *Stream) Attach(t transport.Transport) error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return ErrDestroyed
	}
	if len(s.bound) > 0 {
		s.mu.Unlock()
		return ErrStillBound
	}
	next, err := transition(s.active, t)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	prev := s.active
	// Buffered writes go out before anything written through next.
	if d, ok := prev.(*transport.Detached); ok && next.Kind() != transport.KindDetached {
		for _, p := range d.Take() {
			next.Write(p)
		}
	}
	s.active = next
	s.bindLocked(next)
	s.cacheRemoteAddrLocked(next)
	s.mu.Unlock()

	s.captureState(log.StateEntityTransport, prev.Kind().String(), next.Kind().String(), "attach")
	return nil
}

// Clean unbinds the stream from its transport and installs a placeholder
// that discards writes. The previous transport is left running.
func (s *Stream) Clean() {
	s.clean(transport.NewDetached())
}

func (s *Stream) clean(placeholder *transport.Detached) transport.Transport {
	s.mu.Lock()
	prev := s.active
	s.unbindLocked()
	s.active = placeholder
	s.mu.Unlock()

	s.captureState(log.StateEntityTransport, prev.Kind().String(), placeholder.Kind().String(), "clean")
	return prev
}

// bindLocked subscribes the forwarded events of t. Error is single-shot.
func (s *Stream) bindLocked(t transport.Transport) {
	em, ok := t.(transport.Emitting)
	if !ok {
		return
	}
	events := em.Events()
	fn := s.forward(t)
	for _, name := range forwarded {
		var sub event.Subscription
		if name == event.Error {
			sub = events.Once(name, fn)
		} else {
			sub = events.On(name, fn)
		}
		s.bound = append(s.bound, binding{emitter: events, name: name, sub: sub})
	}
}

func (s *Stream) unbindLocked() {
	for _, b := range s.bound {
		b.emitter.Off(b.name, b.sub)
	}
	s.bound = nil
}

// Bindings returns the number of tracked subscriptions.
func (s *Stream) Bindings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bound)
}

func (s *Stream) forward(src transport.Transport) event.Listener {
	return func(ev event.Event) {
		s.deliver(src, ev)
	}
}

// deliver re-emits ev if src is still the bound transport.
func (s *Stream) deliver(src transport.Transport, ev event.Event) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.active != src {
		s.mu.Unlock()
		return
	}
	switch ev.Name {
	case event.Data:
		// Release may have taken the chunk back for the next owner.
		if c, ok := src.(transport.Claimer); ok && !c.Claim() {
			s.mu.Unlock()
			return
		}
	case event.Close:
		if s.closeEmitted {
			s.mu.Unlock()
			return
		}
		s.closeEmitted = true
	case event.Connect:
		s.cacheRemoteAddrLocked(src)
	}
	s.mu.Unlock()

	s.captureTransportEvent(src.Kind(), ev)
	s.events.Emit(ev)
	if ev.Name == event.Secure {
		s.events.Emit(event.Event{Name: event.SecureConnection})
	}
}

// emitCloseLocked emits Close unless one was emitted already. The caller
// holds dispatchMu.
func (s *Stream) emitCloseLocked(ev event.Event) {
	s.mu.Lock()
	if s.closeEmitted {
		s.mu.Unlock()
		return
	}
	s.closeEmitted = true
	s.mu.Unlock()

	s.captureTransportEvent(transport.KindDetached, ev)
	s.events.Emit(ev)
}

func (s *Stream) cacheRemoteAddrLocked(t transport.Transport) {
	if s.remoteAddr != nil {
		return
	}
	if a, ok := t.(transport.Addressed); ok {
		if addr := a.RemoteAddr(); addr != nil {
			s.remoteAddr = addr
		}
	}
}

// Transport returns the bound transport.
func (s *Stream) Transport() transport.Transport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// UpgradeState returns the position in the upgrade state machine.
func (s *Stream) UpgradeState() UpgradeState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Result returns the outcome of the completed upgrade, if any.
func (s *Stream) Result() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil {
		return Result{}, false
	}
	return *s.result, true
}

// Readable reports whether the bound transport may still deliver data.
func (s *Stream) Readable() bool {
	t, destroyed := s.current()
	if destroyed {
		return false
	}
	if f, ok := t.(transport.Flagged); ok {
		return f.Readable()
	}
	return false
}

// Writable reports whether Write currently accepts data. While an upgrade
// is in setup, writes are accepted into the handoff buffer.
func (s *Stream) Writable() bool {
	t, destroyed := s.current()
	if destroyed {
		return false
	}
	switch v := t.(type) {
	case transport.Flagged:
		return v.Writable()
	case *transport.Detached:
		return v.Buffering()
	}
	return false
}

func (s *Stream) current() (transport.Transport, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active, s.destroyed
}

// Write forwards data to the bound transport. It returns false when the
// caller should wait for a drain event, or when no transport accepted the
// data.
//
// Writes are ordered with transport swaps: data written before an upgrade
// starts is flushed in cleartext, data written after it is sent through
// the TLS session.
func (s *Stream) Write(data []byte) bool {
	t, destroyed := s.current()
	if destroyed {
		return false
	}
	s.captureData(t.Kind(), log.DirectionOut, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	return s.active.Write(data)
}

// WriteString writes str.
func (s *Stream) WriteString(str string) bool {
	return s.Write([]byte(str))
}

// End writes data and half-closes the bound transport.
func (s *Stream) End(data []byte) bool {
	t, destroyed := s.current()
	if destroyed {
		return false
	}
	if _, ok := t.(transport.Ender); !ok {
		return false
	}
	s.captureData(t.Kind(), log.DirectionOut, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.active.(transport.Ender); ok && !s.destroyed {
		return e.End(data)
	}
	return false
}

// Destroy tears the stream down: the bound transport and any handshake in
// progress are destroyed. A close event follows exactly once; repeated
// calls do nothing.
func (s *Stream) Destroy() error {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil
	}
	s.destroyed = true
	t := s.active
	up := s.upgrade
	s.mu.Unlock()

	var err error
	closing := false
	if up != nil {
		err = multierr.Append(err, up.secure.Destroy())
		closing = true
	}
	if d, ok := t.(transport.Destroyer); ok {
		err = multierr.Append(err, d.Destroy())
		closing = true
	}
	if !closing {
		go func() {
			s.dispatchMu.Lock()
			defer s.dispatchMu.Unlock()
			s.emitCloseLocked(event.Event{Name: event.Close})
		}()
	}
	return err
}

// DestroySoon closes the stream once queued writes are flushed.
func (s *Stream) DestroySoon() {
	s.mu.Lock()
	t := s.active
	up := s.upgrade
	s.mu.Unlock()

	if up != nil {
		up.secure.DestroySoon()
		return
	}
	if d, ok := t.(transport.Destroyer); ok {
		d.DestroySoon()
	}
}

// Pause stops data events.
func (s *Stream) Pause() {
	t, _ := s.current()
	if p, ok := t.(transport.Pauser); ok {
		p.Pause()
	}
}

// Resume restarts data events.
func (s *Stream) Resume() {
	t, _ := s.current()
	if p, ok := t.(transport.Pauser); ok {
		p.Resume()
	}
}

// SetTimeout sets the idle timeout. The value is kept and applied again to
// the transport installed by an upgrade.
func (s *Stream) SetTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.timeoutSet = true
	t := s.active
	s.mu.Unlock()

	if ts, ok := t.(transport.TimeoutSetter); ok {
		ts.SetTimeout(d)
	}
}

// Timeout returns the idle timeout last requested.
func (s *Stream) Timeout() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeout
}

// SetKeepAlive toggles TCP keep-alive. The value is kept and applied again
// to the transport installed by an upgrade.
func (s *Stream) SetKeepAlive(enabled bool) error {
	s.mu.Lock()
	s.keepAlive = enabled
	s.keepAliveSet = true
	t := s.active
	s.mu.Unlock()

	if ka, ok := t.(transport.KeepAliveSetter); ok {
		return ka.SetKeepAlive(enabled)
	}
	return nil
}

// KeepAlive returns the keep-alive setting last requested.
func (s *Stream) KeepAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepAlive
}

// SetNoDelay toggles Nagle's algorithm on the socket.
func (s *Stream) SetNoDelay(noDelay bool) error {
	t, _ := s.current()
	if nd, ok := t.(transport.NoDelaySetter); ok {
		return nd.SetNoDelay(noDelay)
	}
	return nil
}

// RemoteAddr returns the peer address captured from the first transport
// that knew it.
func (s *Stream) RemoteAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cacheRemoteAddrLocked(s.active)
	return s.remoteAddr
}

// RemoteHost returns the host part of RemoteAddr.
func (s *Stream) RemoteHost() string {
	host, _ := splitAddr(s.RemoteAddr())
	return host
}

// RemotePort returns the port part of RemoteAddr, or 0.
func (s *Stream) RemotePort() int {
	_, port := splitAddr(s.RemoteAddr())
	return port
}

func splitAddr(addr net.Addr) (string, int) {
	if addr == nil {
		return "", 0
	}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String(), tcp.Port
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
