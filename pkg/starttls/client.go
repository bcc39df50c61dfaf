package starttls

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// Client defaults.
const (
	DefaultHost           = "localhost"
	DefaultConnectTimeout = 30 * time.Second
)

// ClientConfig configures an outgoing connection.
type ClientConfig struct {
	// Host to dial (default: DefaultHost).
	Host string

	// Port to dial.
	Port int

	// Network is the dial network (default: "tcp").
	Network string

	// ConnectTimeout bounds the TCP connect (default: 30s).
	ConnectTimeout time.Duration

	// Dialer overrides the dialer. ConnectTimeout is ignored when set.
	Dialer *net.Dialer

	// ServerName is the name expected in the server certificate during
	// Upgrade (default: Host).
	ServerName string

	// KeepAlive enables TCP keep-alive once connected.
	KeepAlive bool

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol capture (optional).
	ProtocolLogger log.Logger

	// SuppressSetupErrors drops socket errors while an upgrade is in setup.
	SuppressSetupErrors bool
}

// DefaultClientConfig returns a config dialling DefaultHost.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Host:           DefaultHost,
		Network:        "tcp",
		ConnectTimeout: DefaultConnectTimeout,
	}
}

// Connect dials host:port in the background and returns the stream at
// once. onConnect, if set, runs when the connection is established.
// Connection failures arrive as Error and Close events.
func Connect(port int, host string, onConnect func(s *Stream)) *Stream {
	cfg := DefaultClientConfig()
	cfg.Port = port
	if host != "" {
		cfg.Host = host
	}
	return ConnectConfig(context.Background(), cfg, onConnect)
}

// CreateConnection is an alias of Connect.
func CreateConnection(port int, host string, onConnect func(s *Stream)) *Stream {
	return Connect(port, host, onConnect)
}

// ConnectConfig dials according to cfg. ctx bounds the dial only.
func ConnectConfig(ctx context.Context, cfg ClientConfig, onConnect func(s *Stream)) *Stream {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.Network == "" {
		cfg.Network = "tcp"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: cfg.ConnectTimeout}
	}
	serverName := cfg.ServerName
	if serverName == "" {
		serverName = cfg.Host
	}

	plain := transport.NewPendingPlain()
	stream := NewStream(plain, StreamConfig{
		Side:                SideClient,
		Logger:              cfg.Logger,
		ProtocolLogger:      cfg.ProtocolLogger,
		Host:                serverName,
		SuppressSetupErrors: cfg.SuppressSetupErrors,
	})
	stream.Once(event.Connect, func(event.Event) {
		stream.captureState(log.StateEntityConnection, "", "CONNECTED", "")
		if onConnect != nil {
			onConnect(stream)
		}
	})
	if cfg.KeepAlive {
		_ = stream.SetKeepAlive(true)
	}

	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	stream.logger.Debug("connecting", "addr", address)
	plain.Dial(ctx, dialer, cfg.Network, address)
	return stream
}
