package starttls

import (
	"fmt"

	"go.uber.org/multierr"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// upgrade tracks one handshake from setup to completion.
type upgrade struct {
	stream     *Stream
	secure     *transport.Secure
	bridge     *bridge
	onComplete func(Result)

	doneName event.Name
	doneSub  event.Subscription
	errSub   event.Subscription
	closeSub event.Subscription
}

// Upgrade negotiates TLS over the stream's plain socket. The stream is
// detached while the handshake runs; writes made meanwhile are buffered
// and flushed into the TLS session when it completes. On completion the
// stream emits Secure and then calls onComplete with the handshake
// outcome. A failed handshake surfaces as Error and Close on the stream
// and onComplete is not called.
//
// A returned error means nothing changed.
func (s *Stream) Upgrade(cfg *transport.TLSConfig, onComplete func(Result)) error {
	s.mu.Lock()
	var err error
	switch {
	case s.destroyed:
		err = ErrDestroyed
	case s.state == StateSetup:
		err = ErrUpgradeInProgress
	case s.state == StateApplicationOwned:
		err = ErrAlreadySecure
	}
	raw, ok := s.active.(*transport.Plain)
	if err == nil && !ok {
		err = ErrNotPlain
	}
	host := s.config.Host
	s.cacheRemoteAddrLocked(s.active)
	remote := s.remoteAddr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if host == "" {
		host, _ = splitAddr(remote)
	}

	settings, err := s.settings(cfg, host)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}

	s.logger.Debug("upgrading to TLS", "remote", remote)

	// Detach before the socket changes hands so no cleartext event reaches
	// the application once the handshake owns it.
	placeholder := transport.NewBufferedDetached()
	s.mu.Lock()
	if s.destroyed || s.active != raw {
		s.mu.Unlock()
		return ErrUpgradeInProgress
	}
	prevState := s.state
	s.unbindLocked()
	s.active = placeholder
	s.state = StateSetup
	s.mu.Unlock()

	secure, err := transport.NewSecure(raw, settings)
	if err != nil {
		s.mu.Lock()
		for _, p := range placeholder.Take() {
			raw.Write(p)
		}
		s.active = raw
		s.bindLocked(raw)
		s.state = prevState
		s.mu.Unlock()
		return fmt.Errorf("upgrade: %w", err)
	}

	up := &upgrade{
		stream:     s,
		secure:     secure,
		onComplete: onComplete,
		doneName:   event.SecureConnect,
	}
	if settings.Server {
		up.doneName = event.Secure
	}
	up.bridge = newBridge(s, raw)

	events := secure.Events()
	up.errSub = events.On(event.Error, up.onError)
	up.closeSub = events.On(event.Close, up.onClose)
	up.doneSub = events.Once(up.doneName, up.onSecure)

	s.mu.Lock()
	destroyed := s.destroyed
	if !destroyed {
		s.upgrade = up
		s.bridge = up.bridge
	}
	s.mu.Unlock()

	if destroyed {
		// Destroy ran while the stream was detached and has already
		// closed it. Tear the session down without reporting.
		up.unsubscribe()
		up.bridge.release()
		return multierr.Append(ErrDestroyed, secure.Destroy())
	}

	s.captureState(log.StateEntityTransport, transport.KindPlain.String(), transport.KindDetached.String(), "upgrade")
	s.captureState(log.StateEntityUpgrade, prevState.String(), StateSetup.String(), "")
	secure.Start()
	return nil
}

func (s *Stream) settings(cfg *transport.TLSConfig, host string) (*transport.Settings, error) {
	if s.config.Side == SideServer {
		return transport.NewServerSettings(cfg)
	}
	return transport.NewClientSettings(cfg, host)
}

func (u *upgrade) unsubscribe() {
	events := u.secure.Events()
	events.Off(u.doneName, u.doneSub)
	events.Off(event.Error, u.errSub)
	events.Off(event.Close, u.closeSub)
}

// onSecure binds the stream to the established session.
func (u *upgrade) onSecure(event.Event) {
	s := u.stream
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.destroyed || s.upgrade != u {
		s.mu.Unlock()
		return
	}
	placeholder, ok := s.active.(*transport.Detached)
	if !ok || len(s.bound) > 0 {
		// The application attached another transport during setup.
		s.upgrade = nil
		s.state = StateFailed
		s.mu.Unlock()
		u.unsubscribe()
		go u.secure.Destroy()
		return
	}
	s.upgrade = nil
	s.state = StateApplicationOwned
	// Handoff writes precede anything written once the session is bound.
	pending := placeholder.Take()
	for _, p := range pending {
		u.secure.Write(p)
	}
	s.active = u.secure
	s.bindLocked(u.secure)
	timeout, timeoutSet := s.timeout, s.timeoutSet
	keepAlive, keepAliveSet := s.keepAlive, s.keepAliveSet
	s.mu.Unlock()

	u.unsubscribe()

	if timeoutSet {
		u.secure.SetTimeout(timeout)
	}
	if keepAliveSet {
		if err := u.secure.SetKeepAlive(keepAlive); err != nil {
			s.logger.Debug("keep-alive not applied", "error", err)
		}
	}

	result := u.secure.Result()
	s.mu.Lock()
	s.result = &result
	s.mu.Unlock()

	msg := "TLS secured"
	if s.config.Side == SideClient {
		msg = "client TLS secured"
	}
	s.logger.Debug(msg,
		"authorized", result.Authorized,
		"cipher", result.Cipher.StandardName,
		"version", result.Cipher.Version,
		"auth_error", reasonCode(result.AuthorizationError),
	)
	s.captureState(log.StateEntityTransport, transport.KindDetached.String(), transport.KindSecure.String(), "upgrade")
	s.captureState(log.StateEntityUpgrade, StateSetup.String(), StateApplicationOwned.String(), "")
	s.captureHandshake(result)

	s.events.Emit(event.Event{Name: event.Secure})
	s.events.Emit(event.Event{Name: event.SecureConnection})
	if len(pending) > 0 {
		s.events.Emit(event.Event{Name: event.Drain})
	}
	if u.onComplete != nil {
		u.onComplete(result)
	}
}

// onError reports a handshake failure.
func (u *upgrade) onError(ev event.Event) {
	s := u.stream
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.upgrade != u || s.destroyed {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.mu.Unlock()

	if s.config.Side == SideClient {
		s.logger.Error("client TLS error", "reason", reasonCode(ev.Err), "error", ev.Err)
	} else {
		s.logger.Debug("TLS error", "reason", reasonCode(ev.Err), "error", ev.Err)
	}
	s.captureError(transport.KindSecure, ev.Err, "upgrade")
	s.captureState(log.StateEntityUpgrade, StateSetup.String(), StateFailed.String(), reasonCode(ev.Err))
	s.events.Emit(ev)
}

// onClose ends the stream when the session closes before completing.
func (u *upgrade) onClose(ev event.Event) {
	s := u.stream
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if s.upgrade != u {
		s.mu.Unlock()
		return
	}
	s.upgrade = nil
	if s.state == StateSetup {
		s.state = StateFailed
	}
	s.mu.Unlock()

	u.unsubscribe()
	s.emitCloseLocked(ev)
}
