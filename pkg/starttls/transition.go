package starttls

import (
	"fmt"

	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// transition validates a transport swap and returns the transport to
// install. A bound transport may only be replaced by a Detached
// placeholder; a placeholder may be replaced by anything. A nil current
// transport counts as detached.
func transition(current, next transport.Transport) (transport.Transport, error) {
	if next == nil {
		return nil, ErrNilTransport
	}
	if current == nil || current.Kind() == transport.KindDetached {
		return next, nil
	}
	if next.Kind() == transport.KindDetached {
		return next, nil
	}
	return nil, fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, current.Kind(), next.Kind())
}
