package starttls

import (
	"errors"
	"sync"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// bridge forwards socket errors from a released plain transport to the
// stream for as long as the socket lives. It unsubscribes itself when the
// socket closes.
type bridge struct {
	stream *Stream
	raw    *transport.Plain

	errSub   event.Subscription
	closeSub event.Subscription
	once     sync.Once
}

func newBridge(s *Stream, raw *transport.Plain) *bridge {
	b := &bridge{stream: s, raw: raw}
	events := raw.Events()
	b.errSub = events.On(event.Error, b.onError)
	b.closeSub = events.On(event.Close, b.onClose)
	return b
}

func (b *bridge) onError(ev event.Event) {
	b.stream.socketError(ev.Err)
}

func (b *bridge) onClose(event.Event) {
	b.release()
}

// release removes both subscriptions. Only the first call has an effect.
func (b *bridge) release() {
	b.once.Do(func() {
		events := b.raw.Events()
		events.Off(event.Error, b.errSub)
		events.Off(event.Close, b.closeSub)
	})
}

// socketError re-emits a failure of the socket underneath a TLS session.
// During setup it may be dropped, see StreamConfig.SuppressSetupErrors.
func (s *Stream) socketError(err error) {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	destroyed := s.destroyed
	state := s.state
	s.mu.Unlock()
	if destroyed || err == nil {
		return
	}

	if state == StateSetup && s.config.SuppressSetupErrors {
		s.logger.Debug("socket error during TLS setup suppressed", "error", err)
		return
	}

	var tErr *transport.TransportError
	if !errors.As(err, &tErr) {
		err = &transport.TransportError{Op: "socket", Err: err}
	}
	s.captureError(transport.KindPlain, err, "socket")
	s.events.Emit(event.Event{Name: event.Error, Err: err})
}
