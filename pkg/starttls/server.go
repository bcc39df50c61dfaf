package starttls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

// DefaultAddress listens on a random loopback port.
const DefaultAddress = "127.0.0.1:0"

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address to listen on (e.g., ":2525" or "127.0.0.1:0").
	Address string

	// Network is the listen network (default: "tcp").
	Network string

	// Logger for operational logs (optional).
	Logger *slog.Logger

	// ProtocolLogger for protocol capture (optional).
	ProtocolLogger log.Logger

	// OnConnection is called for every accepted connection, before any of
	// its events are delivered.
	OnConnection func(s *Stream)

	// OnError is called when accepting fails.
	OnError func(err error)

	// SuppressSetupErrors is passed to every accepted stream.
	SuppressSetupErrors bool
}

// DefaultServerConfig returns a config listening on DefaultAddress.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address: DefaultAddress,
		Network: "tcp",
	}
}

// Server accepts plain TCP connections and hands each one to the
// application as a Stream on the server side of the upgrade.
type Server struct {
	config ServerConfig
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener

	streams   map[*Stream]struct{}
	streamsMu sync.RWMutex

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a server. Call Start to listen.
func NewServer(config ServerConfig) *Server {
	if config.Address == "" {
		config.Address = DefaultAddress
	}
	if config.Network == "" {
		config.Network = "tcp"
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  config,
		logger:  logger,
		streams: make(map[*Stream]struct{}),
	}
}

// CreateServer creates a server that calls onConnection for every
// accepted stream.
func CreateServer(onConnection func(s *Stream)) *Server {
	cfg := DefaultServerConfig()
	cfg.OnConnection = onConnection
	return NewServer(cfg)
}

// Start listens and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running.Load() {
		return ErrServerRunning
	}

	listener, err := net.Listen(s.config.Network, s.config.Address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = listener
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop(listener)

	done := s.ctx.Done()
	go func() {
		<-done
		_ = s.Stop()
	}()

	s.logger.Debug("server listening", "addr", listener.Addr().String())
	return nil
}

// Stop closes the listener and destroys every live stream.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return nil
	}
	s.cancel()
	listener := s.listener
	s.mu.Unlock()

	var err error
	if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
		err = cerr
	}

	s.streamsMu.RLock()
	streams := make([]*Stream, 0, len(s.streams))
	for st := range s.streams {
		streams = append(streams, st)
	}
	s.streamsMu.RUnlock()

	for _, st := range streams {
		err = multierr.Append(err, st.Destroy())
	}

	s.wg.Wait()
	return err
}

// Addr returns the listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// Port returns the listen port, or 0 before Start.
func (s *Server) Port() int {
	_, port := splitAddr(s.Addr())
	return port
}

// ConnectionCount returns the number of live streams.
func (s *Server) ConnectionCount() int {
	s.streamsMu.RLock()
	defer s.streamsMu.RUnlock()
	return len(s.streams)
}

func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()

	for s.running.Load() {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if s.running.Load() && s.config.OnError != nil {
				s.config.OnError(fmt.Errorf("accept error: %w", err))
			}
			continue
		}
		s.handleConnection(conn)
	}
}

// handleConnection wraps conn in a stream and starts reading once the
// application has registered its listeners.
func (s *Server) handleConnection(conn net.Conn) {
	plain := transport.NewPlain(conn)
	stream := NewStream(plain, StreamConfig{
		Side:                SideServer,
		Logger:              s.config.Logger,
		ProtocolLogger:      s.config.ProtocolLogger,
		SuppressSetupErrors: s.config.SuppressSetupErrors,
	})

	s.streamsMu.Lock()
	s.streams[stream] = struct{}{}
	s.streamsMu.Unlock()

	stream.On(event.Close, func(event.Event) {
		s.streamsMu.Lock()
		delete(s.streams, stream)
		s.streamsMu.Unlock()
	})

	stream.captureState(log.StateEntityConnection, "", "CONNECTED", "")
	stream.logger.Debug("connection accepted", "remote", conn.RemoteAddr().String())

	go func() {
		if s.config.OnConnection != nil {
			s.config.OnConnection(stream)
		}
		plain.Start()
	}()
}
