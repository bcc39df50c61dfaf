package main

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mash-protocol/starttls-go/internal/lineproto"
	"github.com/mash-protocol/starttls-go/pkg/discovery"
	"github.com/mash-protocol/starttls-go/pkg/starttls"
)

// console turns typed lines into protocol commands and prints what the
// server sends back.
type console struct {
	mu  sync.Mutex
	out io.Writer

	client *lineproto.Client

	// fingerprint pins the server certificate when it was found via mDNS.
	fingerprint string
}

func newConsole(out io.Writer, fingerprint string) *console {
	return &console{out: out, fingerprint: fingerprint}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// attach binds the console to the protocol client of a new connection.
func (c *console) attach(client *lineproto.Client) {
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()
}

func (c *console) onReply(line string) {
	c.printf("< %s\n", line)
}

func (c *console) onSecure(r starttls.Result) {
	c.printf("TLS established: %s %s\n", r.Cipher.Version, r.Cipher.Name)
	if !r.Authorized {
		c.printf("Warning: server certificate not verified: %v\n", r.AuthorizationError)
	}
	if c.fingerprint == "" {
		return
	}
	if r.PeerCertificate == nil || !discovery.MatchCertificate(r.PeerCertificate, c.fingerprint) {
		c.printf("Error: server certificate does not match advertised fingerprint %s\n", c.fingerprint)
		_ = c.client.Stream().Destroy()
		return
	}
	c.printf("Server certificate matches advertised fingerprint\n")
}

func (c *console) onClose(hadError bool) {
	if hadError {
		c.printf("Connection closed with error\n")
		return
	}
	c.printf("Connection closed\n")
}

// handle runs one input line. It reports whether the session is ending.
func (c *console) handle(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	switch strings.ToLower(input) {
	case "/starttls":
		if err := c.client.StartTLS(); err != nil {
			c.printf("Error: %v\n", err)
		}
	case "/status":
		c.printStatus()
	case "/help":
		c.printHelp()
	case "/quit", "/exit":
		c.client.Quit()
		return true
	default:
		if !c.client.Send(input) {
			c.printf("Error: connection is not writable\n")
		}
	}
	return false
}

func (c *console) printStatus() {
	s := c.client.Stream()
	c.printf("Connection: %s\n", s.ID())
	c.printf("  Remote: %s\n", s.RemoteAddr())
	c.printf("  Upgrade: %s\n", s.UpgradeState())
	c.printf("  Readable: %t  Writable: %t\n", s.Readable(), s.Writable())
	if r, ok := s.Result(); ok {
		c.printf("  TLS: %s %s (authorized: %t)\n", r.Cipher.Version, r.Cipher.Name, r.Authorized)
		if r.PeerCertificate != nil {
			c.printf("  Peer: %s\n", r.PeerCertificate.Subject)
		}
	}
}

func (c *console) printHelp() {
	c.printf(`Commands:
  /starttls   Upgrade the connection to TLS
  /status     Show connection state
  /help       Show this help
  /quit       Send QUIT and exit

Any other line is sent to the server as is (e.g. PING, STATUS).
`)
}
