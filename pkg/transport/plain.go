package transport

import (
	"context"
	"net"

	"github.com/mash-protocol/starttls-go/pkg/event"
)

// Plain is a cleartext socket transport.
type Plain struct {
	core
}

// NewPlain wraps an established connection. Call Start once listeners are
// registered.
func NewPlain(conn net.Conn) *Plain {
	p := &Plain{}
	p.init(KindPlain)
	p.conn = conn
	p.socket = conn
	return p
}

// NewPendingPlain creates a transport whose socket is supplied later by
// Dial. Writes issued before the connection completes are queued.
func NewPendingPlain() *Plain {
	p := &Plain{}
	p.init(KindPlain)
	return p
}

// Start begins reading and writing.
func (p *Plain) Start() {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return
	}
	p.out.start(conn)
	p.startPump()
}

// Dial connects a pending transport in the background. A Connect event
// follows success; Error and Close follow failure.
func (p *Plain) Dial(ctx context.Context, dialer *net.Dialer, network, address string) {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	go func() {
		conn, err := dialer.DialContext(ctx, network, address)

		p.mu.Lock()
		destroyed := p.destroyed
		if err == nil && !destroyed {
			p.conn = conn
			p.socket = conn
		}
		keepAlive := p.keepAlive
		p.mu.Unlock()

		if err != nil {
			if !destroyed {
				p.fail(&TransportError{Op: "dial", Err: err})
				p.finish(true)
			}
			return
		}
		if destroyed {
			_ = conn.Close()
			return
		}
		if keepAlive {
			_ = p.SetKeepAlive(true)
		}
		p.events.Emit(event.Event{Name: event.Connect})
		p.Start()
	}()
}

// Conn returns the underlying connection, or nil while dialling.
func (p *Plain) Conn() net.Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// Release stops the read pump and flushes queued writes so another reader
// can take the socket over. It returns the socket and any bytes read but
// not yet delivered. A Data chunk still being emitted counts as undelivered
// unless a listener has claimed it. The transport's emitter stays usable
// for socket-level notifications from the new owner.
func (p *Plain) Release() (net.Conn, []byte, error) {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if p.released {
		p.mu.Unlock()
		return nil, nil, ErrReleased
	}
	if p.conn == nil {
		p.mu.Unlock()
		return nil, nil, ErrNotConnected
	}
	p.released = true
	p.reclaimLocked()
	reading := p.reading
	conn := p.conn
	p.cond.Broadcast()
	p.mu.Unlock()

	// A pump blocked in Read is interrupted. A pump that is delivering an
	// event may be waiting on the caller, so it is not waited for; its
	// chunk was reclaimed above and it stops before reading again.
	if reading {
		_ = conn.SetReadDeadline(aLongTimeAgo)
		<-p.pumpDone
		_ = conn.SetReadDeadline(noDeadline)
	}

	p.out.flush()
	p.out.closeThen(nil)
	p.out.wait()
	p.idle.Stop()

	p.mu.Lock()
	leftover := p.leftover
	p.leftover = nil
	p.mu.Unlock()

	return conn, leftover, nil
}

// Released reports whether the socket has been handed to another reader.
func (p *Plain) Released() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

// notifyError reports a socket failure observed by the socket's new owner.
func (p *Plain) notifyError(err error) {
	p.events.Emit(event.Event{Name: event.Error, Err: err})
}

// notifyClose reports that the socket's new owner closed it.
func (p *Plain) notifyClose(hadError bool) {
	p.finish(hadError)
}
