package lineproto

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/starttls"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// ErrUpgradePending is returned by StartTLS while an earlier request is
// still waiting for its reply.
var ErrUpgradePending = errors.New("STARTTLS already requested")

// ClientOptions configures a Client.
type ClientOptions struct {
	// TLS is the upgrade configuration. Nil takes the client defaults.
	TLS *transport.TLSConfig

	// MaxLineLength bounds a reply line (default: DefaultMaxLineLength).
	MaxLineLength int

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// OnReply is called for every reply line, including the greeting.
	OnReply func(line string)

	// OnSecure is called when the upgrade completes.
	OnSecure func(r starttls.Result)
}

// Client is the connecting end of the line protocol. It sends commands
// and upgrades the stream when the server accepts STARTTLS.
type Client struct {
	stream *starttls.Stream
	opts   ClientOptions
	logger *slog.Logger
	split  *Splitter

	mu          sync.Mutex
	greeted     bool
	awaitingTLS bool
}

// NewClient attaches a client to s. Call it before s delivers data, e.g.
// from the connect callback.
func NewClient(s *starttls.Stream, opts ClientOptions) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		stream: s,
		opts:   opts,
		logger: logger.With("conn_id", s.ID()),
		split:  NewSplitter(opts.MaxLineLength),
	}
	s.On(event.Data, c.onData)
	return c
}

// Stream returns the underlying stream.
func (c *Client) Stream() *starttls.Stream { return c.stream }

// Send writes one command line.
func (c *Client) Send(line string) bool {
	return c.stream.WriteString(Command(line))
}

// StartTLS asks the server to upgrade. The handshake starts when the
// server answers with CodeReady.
func (c *Client) StartTLS() error {
	c.mu.Lock()
	if c.awaitingTLS {
		c.mu.Unlock()
		return ErrUpgradePending
	}
	c.awaitingTLS = true
	c.mu.Unlock()

	c.Send(CmdStartTLS)
	return nil
}

// Quit asks the server to close the connection.
func (c *Client) Quit() bool {
	return c.Send(CmdQuit)
}

func (c *Client) onData(ev event.Event) {
	lines, err := c.split.Feed(ev.Data)
	if err != nil {
		c.logger.Warn("reply too long", "error", err)
	}
	for _, line := range lines {
		if c.opts.OnReply != nil {
			c.opts.OnReply(line)
		}
		if c.handleReply(line) {
			return
		}
	}
}

// handleReply reacts to the answer to a pending STARTTLS. It reports
// whether the stream was handed to the TLS layer.
func (c *Client) handleReply(line string) bool {
	code, _, err := ParseReply(line)
	if err != nil {
		c.logger.Debug("ignoring malformed reply", "error", err)
		return false
	}

	c.mu.Lock()
	if !c.greeted {
		// The greeting shares CodeReady with the go-ahead.
		c.greeted = true
		c.mu.Unlock()
		return false
	}
	pending := c.awaitingTLS
	if pending && (code == CodeReady || code == CodeUnavailable) {
		c.awaitingTLS = false
	}
	c.mu.Unlock()

	if !pending || code != CodeReady {
		return false
	}

	// Anything after the go-ahead was not sent by the TLS layer.
	c.split.Reset()
	if err := c.stream.Upgrade(c.opts.TLS, c.onSecure); err != nil {
		c.logger.Warn("upgrade failed", "error", err)
		_ = c.stream.Destroy()
	}
	return true
}

func (c *Client) onSecure(r starttls.Result) {
	c.logger.Debug("upgrade complete", "authorized", r.Authorized, "version", r.Cipher.Version)
	if c.opts.OnSecure != nil {
		c.opts.OnSecure(r)
	}
}
