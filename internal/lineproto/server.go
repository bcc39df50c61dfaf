package lineproto

import (
	"log/slog"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/starttls"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// ServerOptions configures Serve.
type ServerOptions struct {
	// TLS is the upgrade configuration. A server needs a certificate.
	TLS *transport.TLSConfig

	// MaxLineLength bounds a command line (default: DefaultMaxLineLength).
	MaxLineLength int

	// IdleTimeout ends a silent connection. Zero disables it.
	IdleTimeout time.Duration

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// OnSecure is called when a connection finishes its upgrade.
	OnSecure func(s *starttls.Stream, r starttls.Result)
}

// serverConn is the server end of one connection.
type serverConn struct {
	stream  *starttls.Stream
	opts    ServerOptions
	logger  *slog.Logger
	session Session
	split   *Splitter
}

// Serve speaks the line protocol on s. It registers its listeners and
// writes the greeting, then returns; the connection is driven by the
// stream's events until the peer quits or the stream closes.
func Serve(s *starttls.Stream, opts ServerOptions) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &serverConn{
		stream: s,
		opts:   opts,
		logger: logger.With("conn_id", s.ID()),
		split:  NewSplitter(opts.MaxLineLength),
	}

	s.On(event.Data, c.onData)
	s.On(event.Timeout, c.onTimeout)
	s.On(event.Error, func(ev event.Event) {
		c.logger.Debug("connection error", "error", ev.Err)
	})
	s.On(event.Close, func(ev event.Event) {
		c.logger.Debug("connection closed", "had_error", ev.HadError)
	})

	if opts.IdleTimeout > 0 {
		s.SetTimeout(opts.IdleTimeout)
	}
	s.WriteString(Greeting())
}

func (c *serverConn) onData(ev event.Event) {
	lines, err := c.split.Feed(ev.Data)
	for _, line := range lines {
		act := c.session.Handle(line)
		c.logger.Debug("command", "line", line, "secure", c.session.Secure())

		switch {
		case act.Quit:
			c.stream.End([]byte(act.Reply))
			return
		case act.Upgrade:
			c.stream.WriteString(act.Reply)
			// Bytes pipelined behind STARTTLS arrived in the clear.
			c.split.Reset()
			if err := c.stream.Upgrade(c.opts.TLS, c.onSecure); err != nil {
				c.logger.Warn("upgrade failed", "error", err)
				c.stream.DestroySoon()
			}
			return
		default:
			c.stream.WriteString(act.Reply)
		}
	}

	if err != nil {
		c.logger.Debug("rejecting line", "error", err)
		c.stream.End([]byte(Reply(CodeSyntax, LineTooLongText)))
	}
}

func (c *serverConn) onSecure(r starttls.Result) {
	c.session.SetSecure()
	c.logger.Info("connection secured",
		"version", r.Cipher.Version,
		"cipher", r.Cipher.Name,
		"authorized", r.Authorized)
	if c.opts.OnSecure != nil {
		c.opts.OnSecure(c.stream, r)
	}
}

func (c *serverConn) onTimeout(event.Event) {
	c.logger.Debug("idle timeout")
	c.stream.End([]byte(Reply(CodeClosing, IdleText)))
}
