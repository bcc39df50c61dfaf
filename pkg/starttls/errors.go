package starttls

import "errors"

// Stream errors.
var (
	ErrDestroyed          = errors.New("stream destroyed")
	ErrStillBound         = errors.New("stream still bound to a transport")
	ErrIllegalTransition  = errors.New("illegal transport transition")
	ErrNilTransport       = errors.New("transport is nil")
	ErrNotPlain           = errors.New("stream is not attached to a plain transport")
	ErrUpgradeInProgress  = errors.New("upgrade already in progress")
	ErrAlreadySecure      = errors.New("stream is already secure")
	ErrServerRunning      = errors.New("server already running")
	ErrServerNotListening = errors.New("server not listening")
)
