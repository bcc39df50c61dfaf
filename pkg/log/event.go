package log

import "time"

// MaxCapturedData is the number of payload bytes kept in a DataEvent.
const MaxCapturedData = 512

// Event represents a protocol log event captured on a stream.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the stream (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates data flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this end accepted or dialled.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Data        *DataEvent        `cbor:"10,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"11,keyasint,omitempty"`
	Handshake   *HandshakeEvent   `cbor:"12,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"13,keyasint,omitempty"`
}

// Direction indicates the direction of data flow.
type Direction uint8

const (
	// DirectionIn indicates received data.
	DirectionIn Direction = 0
	// DirectionOut indicates sent data.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates where the event was captured.
type Layer uint8

const (
	// LayerPlain is the cleartext transport.
	LayerPlain Layer = 0
	// LayerSecure is the TLS transport.
	LayerSecure Layer = 1
	// LayerStream is the facade stream itself.
	LayerStream Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerPlain:
		return "PLAIN"
	case LayerSecure:
		return "SECURE"
	case LayerStream:
		return "STREAM"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates application bytes.
	CategoryData Category = 0
	// CategoryState indicates a state change.
	CategoryState Category = 1
	// CategoryHandshake indicates a completed TLS handshake.
	CategoryHandshake Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryState:
		return "STATE"
	case CategoryHandshake:
		return "HANDSHAKE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which end of the connection logged the event.
type Role uint8

const (
	// RoleServer indicates the accepting side.
	RoleServer Role = 0
	// RoleClient indicates the connecting side.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// DataEvent captures application bytes.
type DataEvent struct {
	// Size is the full payload size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data holds the payload, cut at MaxCapturedData.
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was cut.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// CaptureData copies p into a DataEvent.
func CaptureData(p []byte) *DataEvent {
	d := &DataEvent{Size: len(p)}
	n := len(p)
	if n > MaxCapturedData {
		n = MaxCapturedData
		d.Truncated = true
	}
	d.Data = append([]byte(nil), p[:n]...)
	return d
}

// StateChangeEvent captures transport swaps and upgrade progress.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates the connection opened or closed.
	StateEntityConnection StateEntity = 0
	// StateEntityTransport indicates the stream swapped transports.
	StateEntityTransport StateEntity = 1
	// StateEntityUpgrade indicates the upgrade state machine moved.
	StateEntityUpgrade StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntityTransport:
		return "TRANSPORT"
	case StateEntityUpgrade:
		return "UPGRADE"
	default:
		return "UNKNOWN"
	}
}

// HandshakeEvent captures the outcome of a TLS handshake.
type HandshakeEvent struct {
	// Authorized reports whether the peer certificate verified.
	Authorized bool `cbor:"1,keyasint"`

	// AuthorizationError is the failure reason code, if any.
	AuthorizationError string `cbor:"2,keyasint,omitempty"`

	// Cipher is the negotiated suite.
	Cipher string `cbor:"3,keyasint,omitempty"`

	// Version is the negotiated protocol version.
	Version string `cbor:"4,keyasint,omitempty"`

	// PeerSubject is the peer certificate subject, if one was presented.
	PeerSubject string `cbor:"5,keyasint,omitempty"`

	// NegotiatedProtocol is the ALPN protocol, if any.
	NegotiatedProtocol string `cbor:"6,keyasint,omitempty"`
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is a reason code (if applicable).
	Code string `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
