package starttls

import (
	"crypto/x509"
	"errors"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

func layerOf(k transport.Kind) log.Layer {
	switch k {
	case transport.KindPlain:
		return log.LayerPlain
	case transport.KindSecure:
		return log.LayerSecure
	default:
		return log.LayerStream
	}
}

func (s *Stream) capturing() bool {
	_, noop := s.proto.(log.NoopLogger)
	return !noop
}

func (s *Stream) record(ev log.Event) {
	ev.Timestamp = time.Now()
	ev.ConnectionID = s.id
	ev.LocalRole = s.config.Side.role()
	s.mu.Lock()
	if s.remoteAddr != nil {
		ev.RemoteAddr = s.remoteAddr.String()
	}
	s.mu.Unlock()
	s.proto.Log(ev)
}

func (s *Stream) captureData(k transport.Kind, dir log.Direction, data []byte) {
	if !s.capturing() || len(data) == 0 || k == transport.KindDetached {
		return
	}
	s.record(log.Event{
		Direction: dir,
		Layer:     layerOf(k),
		Category:  log.CategoryData,
		Data:      log.CaptureData(data),
	})
}

func (s *Stream) captureState(entity log.StateEntity, oldState, newState, reason string) {
	if !s.capturing() {
		return
	}
	s.record(log.Event{
		Layer:    log.LayerStream,
		Category: log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (s *Stream) captureError(k transport.Kind, err error, context string) {
	if !s.capturing() || err == nil {
		return
	}
	data := &log.ErrorEventData{
		Layer:   layerOf(k),
		Message: err.Error(),
		Context: context,
	}
	var authErr *transport.AuthorizationError
	var hsErr *transport.HandshakeError
	var tErr *transport.TransportError
	switch {
	case errors.As(err, &authErr):
		data.Code = authErr.Code
	case errors.As(err, &hsErr):
		data.Code = "HANDSHAKE"
	case errors.As(err, &tErr):
		data.Code = tErr.Op
	}
	s.record(log.Event{
		Layer:    data.Layer,
		Category: log.CategoryError,
		Error:    data,
	})
}

func (s *Stream) captureHandshake(r Result) {
	if !s.capturing() {
		return
	}
	hs := &log.HandshakeEvent{
		Authorized:         r.Authorized,
		AuthorizationError: reasonCode(r.AuthorizationError),
		Cipher:             r.Cipher.StandardName,
		Version:            r.Cipher.Version,
		PeerSubject:        subjectOf(r.PeerCertificate),
		NegotiatedProtocol: r.NegotiatedProtocol,
	}
	s.record(log.Event{
		Layer:     log.LayerSecure,
		Category:  log.CategoryHandshake,
		Handshake: hs,
	})
}

// captureTransportEvent records the protocol view of a forwarded event.
func (s *Stream) captureTransportEvent(k transport.Kind, ev event.Event) {
	switch ev.Name {
	case event.Data:
		s.captureData(k, log.DirectionIn, ev.Data)
	case event.Error:
		s.captureError(k, ev.Err, "transport")
	case event.Close:
		reason := ""
		if ev.HadError {
			reason = "error"
		}
		s.captureState(log.StateEntityConnection, "OPEN", "CLOSED", reason)
	}
}

// reasonCode returns the authorization reason code of err, or its message.
func reasonCode(err error) string {
	if err == nil {
		return ""
	}
	var authErr *transport.AuthorizationError
	if errors.As(err, &authErr) {
		return authErr.Code
	}
	return err.Error()
}

func subjectOf(c *x509.Certificate) string {
	if c == nil {
		return ""
	}
	return c.Subject.String()
}
