// Package log provides structured protocol capture for STARTTLS streams.
//
// This package defines the Logger interface and Event types for recording
// what happens on a stream: bytes in and out on each transport, transport
// swaps and upgrade state changes, handshake outcomes, and errors. It is
// separate from operational logging (slog); protocol capture is a complete
// machine-readable trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure capture by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/starttls/server.tlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at three layers:
//   - Plain: cleartext bytes before the upgrade (DataEvent)
//   - Secure: decrypted bytes after the upgrade (DataEvent, HandshakeEvent)
//   - Stream: transport swaps and upgrade states (StateChangeEvent)
//
// Errors at any layer use ErrorEventData.
//
// # File Format
//
// Log files are a sequence of CBOR-encoded events with the .tlog
// extension. The starttls-log CLI tool views, filters and exports them.
package log
