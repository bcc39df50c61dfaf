package transport

import (
	"net"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
)

// Kind tags the transport variant.
type Kind int

const (
	// KindDetached is the placeholder installed between two transports.
	KindDetached Kind = iota

	// KindPlain is a cleartext socket.
	KindPlain

	// KindSecure is a TLS session over a released cleartext socket.
	KindSecure
)

// String returns the variant name.
func (k Kind) String() string {
	switch k {
	case KindDetached:
		return "DETACHED"
	case KindPlain:
		return "PLAIN"
	case KindSecure:
		return "SECURE"
	default:
		return "UNKNOWN"
	}
}

// Transport is the minimal contract every variant satisfies.
type Transport interface {
	// Kind returns the variant tag.
	Kind() Kind

	// Write queues data for sending. It returns false when the caller
	// should wait for a Drain event before writing more, or when the data
	// was not accepted at all.
	Write(data []byte) bool
}

// Emitting is implemented by transports that produce events.
type Emitting interface {
	Events() *event.Emitter
}

// Addressed is implemented by transports that know their peer.
type Addressed interface {
	RemoteAddr() net.Addr
}

// Claimer lets a consumer take ownership of the Data chunk being emitted,
// so that a concurrent Release does not hand it to the socket's next owner.
type Claimer interface {
	Claim() bool
}

// Flagged exposes the readable and writable state of a transport.
type Flagged interface {
	Readable() bool
	Writable() bool
}

// Ender half-closes the transport after queued data is written.
type Ender interface {
	End(data []byte) bool
}

// Destroyer tears a transport down.
type Destroyer interface {
	// Destroy closes the transport immediately, discarding queued writes.
	Destroy() error

	// DestroySoon closes the transport once queued writes are flushed.
	DestroySoon()
}

// Pauser stops and restarts data delivery.
type Pauser interface {
	Pause()
	Resume()
}

// TimeoutSetter configures the idle timeout that produces Timeout events.
type TimeoutSetter interface {
	SetTimeout(d time.Duration)
	Timeout() time.Duration
}

// KeepAliveSetter configures TCP keep-alive on the underlying socket.
type KeepAliveSetter interface {
	SetKeepAlive(enabled bool) error
	KeepAlive() bool
}

// NoDelaySetter configures Nagle's algorithm on the underlying socket.
type NoDelaySetter interface {
	SetNoDelay(noDelay bool) error
}

// Compile-time interface satisfaction checks.
var (
	_ Transport       = (*Detached)(nil)
	_ Transport       = (*Plain)(nil)
	_ Transport       = (*Secure)(nil)
	_ Emitting        = (*Plain)(nil)
	_ Emitting        = (*Secure)(nil)
	_ Addressed       = (*Plain)(nil)
	_ Addressed       = (*Secure)(nil)
	_ Flagged         = (*Plain)(nil)
	_ Claimer         = (*Plain)(nil)
	_ Flagged         = (*Secure)(nil)
	_ Ender           = (*Plain)(nil)
	_ Destroyer       = (*Secure)(nil)
	_ Pauser          = (*Secure)(nil)
	_ TimeoutSetter   = (*Plain)(nil)
	_ KeepAliveSetter = (*Secure)(nil)
	_ NoDelaySetter   = (*Plain)(nil)
)
