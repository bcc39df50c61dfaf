// Package starttls provides a duplex stream whose transport can be
// upgraded from cleartext to TLS in place.
//
// A Stream starts bound to a cleartext transport. When the application
// protocol decides to go secure (an SMTP, IMAP or POP3 STARTTLS command),
// it calls Upgrade. The stream detaches from the cleartext transport,
// layers a TLS session over the same socket, and rebinds to the session
// once the handshake completes. Listeners registered on the stream keep
// working across the swap.
//
// # Binding
//
// Exactly one transport feeds a stream at a time. Attach subscribes the
// stream to a fixed set of events on a transport; Clean removes exactly
// those subscriptions and installs a Detached placeholder. Delivery
// re-checks the binding under the stream lock, so once Clean returns no new
// event of the old transport reaches stream listeners.
//
// Stream listeners never run concurrently with each other. Listeners must
// not block waiting for a later event of the same stream.
//
// # Upgrade
//
//	PLAIN ──Upgrade──▶ SETUP ──handshake──▶ APPLICATION_OWNED
//	                     │
//	                     └──error/close──▶ FAILED
//
// During SETUP, writes are buffered and flushed into the TLS session when
// it attaches; Write returns false meanwhile and a drain event follows the
// flush. Errors of the TLS session are re-emitted as stream errors. Socket
// errors reach the stream through the error-lifetime bridge, which detaches
// itself when the socket closes.
//
// The completion callback runs once per successful handshake, after the
// stream emits "secure". A failed handshake is reported only through error
// and close events.
//
// # Factories
//
// NewServer accepts connections and hands each one to OnConnection as a
// Stream. Connect and ConnectConfig dial out and return a Stream
// immediately; writes issued before the connection completes are queued.
package starttls
