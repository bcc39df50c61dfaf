package starttls

import "github.com/mash-protocol/starttls-go/pkg/log"

// Side selects which end of the handshake a stream plays.
type Side uint8

const (
	// SideServer accepts the TLS handshake.
	SideServer Side = iota
	// SideClient initiates the TLS handshake.
	SideClient
)

// String returns the side name.
func (s Side) String() string {
	switch s {
	case SideServer:
		return "SERVER"
	case SideClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

func (s Side) role() log.Role {
	if s == SideClient {
		return log.RoleClient
	}
	return log.RoleServer
}

// UpgradeState is the position of a stream in the upgrade state machine.
type UpgradeState uint8

const (
	// StatePlain means no upgrade was attempted.
	StatePlain UpgradeState = iota

	// StateSetup means the handshake is in progress and the stream is
	// detached. Socket errors may be suppressed in this state.
	StateSetup

	// StateApplicationOwned means the handshake completed and the stream
	// is bound to the TLS session.
	StateApplicationOwned

	// StateFailed means the handshake failed or the stream closed during
	// setup.
	StateFailed
)

// String returns the state name.
func (s UpgradeState) String() string {
	switch s {
	case StatePlain:
		return "PLAIN"
	case StateSetup:
		return "SETUP"
	case StateApplicationOwned:
		return "APPLICATION_OWNED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
