// Package commands implements the starttls-log CLI commands.
package commands

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mash-protocol/starttls-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Role      *log.Role
}

func (f ViewFilter) logFilter() log.Filter {
	return log.Filter{
		Layer:     f.Layer,
		Direction: f.Direction,
		Category:  f.Category,
		Role:      f.Role,
	}
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] ROLE DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	fmt.Fprintf(w, "%s [conn:%s] %-6s %-3s %-6s %s\n",
		ts, connID, event.LocalRole.String(), event.Direction.String(), event.Layer.String(), eventType(event))

	switch {
	case event.Data != nil:
		formatDataDetails(w, event.Data)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.Handshake != nil:
		formatHandshakeDetails(w, event.Handshake)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.RemoteAddr != "" {
		fmt.Fprintf(w, "  Peer: %s\n", event.RemoteAddr)
	}

	fmt.Fprintln(w)
}

// eventType labels the payload carried by an event.
func eventType(event log.Event) string {
	switch {
	case event.Data != nil:
		return "Data"
	case event.StateChange != nil:
		return "State"
	case event.Handshake != nil:
		return "Handshake"
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the first 8 characters of the connection ID.
func shortenConnID(id string) string {
	if len(id) >= 8 {
		return id[:8]
	}
	return id
}

func formatDataDetails(w io.Writer, d *log.DataEvent) {
	fmt.Fprintf(w, "  Size: %d bytes\n", d.Size)
	if len(d.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", printable(d.Data))
		if d.Truncated {
			fmt.Fprint(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

// printable quotes p so line endings and binary bytes stay visible.
func printable(p []byte) string {
	q := strconv.Quote(string(p))
	return q[1 : len(q)-1]
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatHandshakeDetails(w io.Writer, h *log.HandshakeEvent) {
	fmt.Fprintf(w, "  Authorized: %t\n", h.Authorized)
	if h.AuthorizationError != "" {
		fmt.Fprintf(w, "  AuthError: %s\n", h.AuthorizationError)
	}
	if h.Version != "" {
		fmt.Fprintf(w, "  Version: %s\n", h.Version)
	}
	if h.Cipher != "" {
		fmt.Fprintf(w, "  Cipher: %s\n", h.Cipher)
	}
	if h.PeerSubject != "" {
		fmt.Fprintf(w, "  Peer Subject: %s\n", h.PeerSubject)
	}
	if h.NegotiatedProtocol != "" {
		fmt.Fprintf(w, "  ALPN: %s\n", h.NegotiatedProtocol)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != "" {
		fmt.Fprintf(w, "  Code: %s\n", err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string from command-line flag (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "plain":
		return log.LayerPlain, nil
	case "secure":
		return log.LayerSecure, nil
	case "stream":
		return log.LayerStream, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be plain, secure, or stream)", s)
	}
}

// ParseDirectionFlag parses a direction string from command-line flag (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string from command-line flag (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "data":
		return log.CategoryData, nil
	case "state":
		return log.CategoryState, nil
	case "handshake":
		return log.CategoryHandshake, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be data, state, handshake, or error)", s)
	}
}

// ParseRoleFlag parses a role string from command-line flag (case-insensitive).
func ParseRoleFlag(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "server":
		return log.RoleServer, nil
	case "client":
		return log.RoleClient, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be server or client)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewFilteredReader(path, filter.logFilter())
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		formatEvent(output, event)
	}

	return nil
}
