package transport

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
)

// readBufferSize is the size of a single socket read.
const readBufferSize = 16 * 1024

// aLongTimeAgo is a deadline in the past, used to interrupt blocked reads.
var aLongTimeAgo = time.Unix(1, 0)

// noDeadline clears a deadline.
var noDeadline time.Time

// core is the socket machinery shared by Plain and Secure.
type core struct {
	kind   Kind
	events *event.Emitter
	out    *writeQueue
	idle   *IdleTimer

	mu   sync.Mutex
	cond *sync.Cond

	// conn is read and written; socket is where TCP options apply.
	conn   net.Conn
	socket net.Conn

	paused      bool
	ended       bool
	reading     bool
	released    bool
	leftover    []byte
	readable    bool
	writable    bool
	destroyed   bool
	keepAlive   bool
	pumpStarted bool
	pumpDone    chan struct{}

	// inflight is the chunk the pump is delivering; claimed is set once a
	// consumer has taken it.
	inflight []byte
	claimed  bool

	failOnce   sync.Once
	finishOnce sync.Once

	// routeError diverts an error away from this transport's emitter.
	// It reports whether the error was consumed.
	routeError func(err error) bool

	// onFinish runs after the Close event.
	onFinish func(hadError bool)
}

func (c *core) init(kind Kind) {
	c.kind = kind
	c.events = event.NewEmitter()
	c.cond = sync.NewCond(&c.mu)
	c.pumpDone = make(chan struct{})
	c.readable = true
	c.writable = true
	c.out = newWriteQueue(DefaultHighWaterMark,
		func() { c.events.Emit(event.Event{Name: event.Drain}) },
		func(err error) {
			c.fail(&TransportError{Op: "write", Err: err})
		},
	)
	c.idle = NewIdleTimer(func() { c.events.Emit(event.Event{Name: event.Timeout}) })
}

// Kind returns the variant tag.
func (c *core) Kind() Kind { return c.kind }

// Events returns the transport's emitter.
func (c *core) Events() *event.Emitter { return c.events }

// RemoteAddr returns the peer address, or nil before the socket exists.
func (c *core) RemoteAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return nil
	}
	return c.socket.RemoteAddr()
}

// LocalAddr returns the local address, or nil before the socket exists.
func (c *core) LocalAddr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.socket == nil {
		return nil
	}
	return c.socket.LocalAddr()
}

// Readable reports whether more data may arrive.
func (c *core) Readable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readable
}

// Writable reports whether Write still accepts data.
func (c *core) Writable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writable
}

// Write queues data for sending.
func (c *core) Write(data []byte) bool {
	c.mu.Lock()
	if c.destroyed || c.released || !c.writable {
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	c.idle.Touch()
	return c.out.push(data)
}

// End writes data, then half-closes the sending side.
func (c *core) End(data []byte) bool {
	ok := true
	if len(data) > 0 {
		ok = c.Write(data)
	}

	c.mu.Lock()
	if c.destroyed || c.released || !c.writable {
		c.mu.Unlock()
		return false
	}
	c.writable = false
	c.mu.Unlock()

	c.out.closeThen(c.closeWrite)
	return ok
}

func (c *core) closeWrite() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err == nil {
			return
		}
	}
	_ = conn.Close()
}

// Destroy closes the socket immediately and discards queued writes.
// Calling it more than once is a no-op.
func (c *core) Destroy() error {
	c.mu.Lock()
	if c.destroyed || c.released {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	c.readable = false
	c.writable = false
	conn := c.conn
	pumping := c.pumpStarted
	c.cond.Broadcast()
	c.mu.Unlock()

	c.out.abort()
	c.idle.Stop()

	var err error
	if conn != nil {
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if !pumping {
		go c.finish(false)
	}
	return err
}

// DestroySoon closes the socket after queued writes are flushed.
func (c *core) DestroySoon() {
	c.mu.Lock()
	if c.destroyed || c.released {
		c.mu.Unlock()
		return
	}
	c.writable = false
	c.mu.Unlock()

	c.out.closeThen(func() { _ = c.Destroy() })
}

// Pause stops Data events until Resume. The transport reports itself
// unreadable while paused.
func (c *core) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed || c.released {
		return
	}
	c.paused = true
	c.readable = false
}

// Resume restarts Data events.
func (c *core) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	if !c.destroyed && !c.released && !c.ended {
		c.readable = true
	}
	c.cond.Broadcast()
}

// Claim marks the Data chunk being delivered as consumed. It reports false
// when the chunk was taken back by Release and must not be used.
func (c *core) Claim() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return false
	}
	if c.inflight != nil {
		c.claimed = true
	}
	return true
}

// reclaimLocked moves an unclaimed in-flight chunk into leftover.
func (c *core) reclaimLocked() {
	if c.inflight != nil && !c.claimed {
		c.leftover = append(c.leftover, c.inflight...)
	}
	c.inflight = nil
}

// SetTimeout sets the idle timeout. Zero disables it.
func (c *core) SetTimeout(d time.Duration) {
	c.idle.Set(d)
}

// Timeout returns the idle timeout.
func (c *core) Timeout() time.Duration {
	return c.idle.Timeout()
}

// SetKeepAlive toggles TCP keep-alive on the socket. The setting is
// remembered even when the socket is not TCP.
func (c *core) SetKeepAlive(enabled bool) error {
	c.mu.Lock()
	c.keepAlive = enabled
	socket := c.socket
	c.mu.Unlock()

	if tcp, ok := socket.(*net.TCPConn); ok {
		return tcp.SetKeepAlive(enabled)
	}
	return nil
}

// KeepAlive reports the last keep-alive setting.
func (c *core) KeepAlive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keepAlive
}

// SetNoDelay toggles Nagle's algorithm on TCP sockets.
func (c *core) SetNoDelay(noDelay bool) error {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()

	if tcp, ok := socket.(*net.TCPConn); ok {
		return tcp.SetNoDelay(noDelay)
	}
	return nil
}

// startPump launches the read goroutine once.
func (c *core) startPump() {
	c.mu.Lock()
	if c.pumpStarted || c.released || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.pumpStarted = true
	c.mu.Unlock()

	go c.readLoop()
}

func (c *core) readLoop() {
	defer close(c.pumpDone)

	buf := make([]byte, readBufferSize)
	for {
		c.mu.Lock()
		for c.paused && !c.released && !c.destroyed {
			c.cond.Wait()
		}
		if c.released {
			c.mu.Unlock()
			return
		}
		if c.destroyed {
			c.mu.Unlock()
			c.finish(false)
			return
		}
		c.reading = true
		conn := c.conn
		c.mu.Unlock()

		n, err := conn.Read(buf)

		c.mu.Lock()
		c.reading = false
		if c.released {
			if n > 0 {
				c.leftover = append(c.leftover, buf[:n]...)
			}
			c.mu.Unlock()
			return
		}
		var data []byte
		if n > 0 && !c.destroyed {
			data = make([]byte, n)
			copy(data, buf[:n])
			c.inflight = data
			c.claimed = false
		}
		c.mu.Unlock()

		if data != nil {
			c.idle.Touch()
			c.events.Emit(event.Event{Name: event.Data, Data: data})

			c.mu.Lock()
			c.inflight = nil
			c.mu.Unlock()
		}
		if err != nil {
			c.readFailed(err)
			return
		}
	}
}

func (c *core) readFailed(err error) {
	c.mu.Lock()
	destroyed := c.destroyed
	c.readable = false
	c.ended = true
	conn := c.conn
	c.mu.Unlock()

	if destroyed {
		c.finish(false)
		return
	}

	if errors.Is(err, io.EOF) {
		c.events.Emit(event.Event{Name: event.End})

		// The peer finished; finish our side once queued data is out.
		c.mu.Lock()
		c.writable = false
		c.mu.Unlock()
		c.out.closeThen(nil)
		c.out.wait()
		_ = conn.Close()
		c.finish(false)
		return
	}

	c.fail(&TransportError{Op: "read", Err: err})
	c.finish(true)
}

// fail reports err once and tears the socket down.
func (c *core) fail(err error) {
	c.mu.Lock()
	destroyed := c.destroyed
	conn := c.conn
	c.mu.Unlock()
	if destroyed {
		return
	}

	c.failOnce.Do(func() {
		if c.routeError == nil || !c.routeError(err) {
			c.events.Emit(event.Event{Name: event.Error, Err: err})
		}
		c.out.abort()
		if conn != nil {
			_ = conn.Close()
		}
	})
}

// finish emits Close exactly once.
func (c *core) finish(hadError bool) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		c.readable = false
		c.writable = false
		c.mu.Unlock()

		c.idle.Stop()
		c.out.abort()
		c.events.Emit(event.Event{Name: event.Close, HadError: hadError})
		if c.onFinish != nil {
			c.onFinish(hadError)
		}
	})
}
