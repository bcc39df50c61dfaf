// Package transport provides the byte transports a STARTTLS stream can be
// bound to.
//
// Three variants exist:
//   - Plain: a TCP (or any net.Conn) socket carrying cleartext
//   - Secure: a TLS session layered over the socket of a released Plain
//   - Detached: an inert placeholder installed while a stream swaps transports
//
// # Event Model
//
// Plain and Secure own an event.Emitter and emit from their own goroutines
// only (read pump, write queue, dial goroutine, idle timer). Methods invoked
// by callers never emit synchronously, so a listener may call back into the
// transport without re-entering itself.
//
//	┌──────────────┐   Release()   ┌──────────────┐
//	│    Plain     │ ────────────▶ │    Secure    │
//	│ read pump    │  raw socket + │ handshake,   │
//	│ write queue  │  unread bytes │ read pump    │
//	└──────────────┘               └──────────────┘
//
// # Release
//
// Plain.Release stops the read pump before anything else reads the socket:
// a blocked read is interrupted with a past deadline, bytes it returned are
// handed back to the caller, and queued cleartext is flushed. The secure
// transport then reads those bytes ahead of the socket.
//
// # Capabilities
//
// Optional behaviour is expressed through small interfaces (Pauser, Ender,
// Destroyer, TimeoutSetter, KeepAliveSetter, NoDelaySetter). Detached
// implements none of them.
package transport
