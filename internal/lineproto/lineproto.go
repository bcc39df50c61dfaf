// Package lineproto implements the CRLF line protocol spoken by the demo
// server and client.
package lineproto

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Commands.
const (
	CmdStartTLS = "STARTTLS"
	CmdPing     = "PING"
	CmdStatus   = "STATUS"
	CmdQuit     = "QUIT"
)

// Reply codes.
const (
	CodeReady       = 220
	CodeBye         = 221
	CodeOK          = 250
	CodeClosing     = 421
	CodeUnavailable = 454
	CodeSyntax      = 500
)

// Fixed reply texts.
const (
	GreetingText     = "starttls-go ready"
	ReadyTLSText     = "Ready to start TLS"
	PongText         = "PONG"
	ByeText          = "Bye"
	TLSActiveText    = "TLS already active"
	StatusPlainText  = "plain"
	StatusSecureText = "secure"
	IdleText         = "Idle timeout"
	LineTooLongText  = "Line too long"
)

// DefaultMaxLineLength bounds a single line.
const DefaultMaxLineLength = 4096

// ErrLineTooLong is returned when a line exceeds the splitter limit.
var ErrLineTooLong = errors.New("line too long")

// Reply formats a reply line including the trailing CRLF.
func Reply(code int, text string) string {
	return fmt.Sprintf("%d %s\r\n", code, text)
}

// Command formats a command line including the trailing CRLF.
func Command(line string) string {
	return line + "\r\n"
}

// ParseReply splits a reply line into its code and text.
func ParseReply(line string) (int, string, error) {
	var code int
	if len(line) < 3 {
		return 0, "", fmt.Errorf("malformed reply %q", line)
	}
	if _, err := fmt.Sscanf(line[:3], "%d", &code); err != nil {
		return 0, "", fmt.Errorf("malformed reply %q: %w", line, err)
	}
	return code, strings.TrimSpace(line[3:]), nil
}

// Splitter cuts a byte stream into lines. Both CRLF and bare LF end a
// line; the terminator is not part of the returned line.
type Splitter struct {
	buf []byte
	max int
}

// NewSplitter creates a splitter. maxLen <= 0 selects DefaultMaxLineLength.
func NewSplitter(maxLen int) *Splitter {
	if maxLen <= 0 {
		maxLen = DefaultMaxLineLength
	}
	return &Splitter{max: maxLen}
}

// Feed appends data and returns the lines it completed. On
// ErrLineTooLong the buffered partial line is discarded.
func (s *Splitter) Feed(data []byte) ([]string, error) {
	s.buf = append(s.buf, data...)

	var lines []string
	for {
		i := bytes.IndexByte(s.buf, '\n')
		if i < 0 {
			break
		}
		line := s.buf[:i]
		line = bytes.TrimSuffix(line, []byte{'\r'})
		lines = append(lines, string(line))
		s.buf = s.buf[i+1:]
	}

	if len(s.buf) > s.max {
		s.buf = nil
		return lines, ErrLineTooLong
	}
	return lines, nil
}

// Pending returns the number of buffered bytes without a terminator.
func (s *Splitter) Pending() int { return len(s.buf) }

// Reset drops buffered bytes. Call it when the byte stream changes, e.g.
// after the TLS upgrade.
func (s *Splitter) Reset() { s.buf = nil }
