package starttls

import (
	"bytes"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/starttls-go/pkg/cert"
	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

const waitTimeout = 5 * time.Second

// fakeTransport is an emitting transport driven by the test.
type fakeTransport struct {
	events *event.Emitter
	kind   transport.Kind
	addr   net.Addr

	mu     sync.Mutex
	writes []string
}

func newFake(kind transport.Kind) *fakeTransport {
	return &fakeTransport{
		events: event.NewEmitter(),
		kind:   kind,
		addr:   &net.TCPAddr{IP: net.IPv4(192, 0, 2, 7), Port: 2525},
	}
}

func (f *fakeTransport) Kind() transport.Kind { return f.kind }

func (f *fakeTransport) Events() *event.Emitter { return f.events }

func (f *fakeTransport) RemoteAddr() net.Addr { return f.addr }

func (f *fakeTransport) emit(ev event.Event) bool { return f.events.Emit(ev) }

func (f *fakeTransport) Write(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, string(data))
	return true
}

func (f *fakeTransport) Written() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// mockDestroyer records teardown calls.
type mockDestroyer struct {
	*fakeTransport
	mock.Mock
}

func (m *mockDestroyer) Destroy() error {
	args := m.Called()
	return args.Error(0)
}

func (m *mockDestroyer) DestroySoon() {
	m.Called()
}

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- c
	}()

	client, err = net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	server = <-accepted
	require.NotNil(t, server, "accept failed")

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

func selfSigned(t *testing.T) *cert.Identity {
	t.Helper()
	id, err := cert.GenerateSelfSigned(cert.Options{
		CommonName:  "localhost",
		DNSNames:    []string{"localhost"},
		IPAddresses: []string{"127.0.0.1"},
	})
	require.NoError(t, err)
	return id
}

// collect forwards stream events called name into a buffered channel.
func collect(s *Stream, name event.Name) chan event.Event {
	ch := make(chan event.Event, 64)
	s.On(name, func(ev event.Event) { ch <- ev })
	return ch
}

func waitFor[T any](t *testing.T, ch <-chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func expectNone[T any](t *testing.T, ch <-chan T, d time.Duration, what string) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected %s: %+v", what, v)
	case <-time.After(d):
	}
}

// readUntil concatenates data events until the text contains want.
func readUntil(t *testing.T, ch <-chan event.Event, want string) string {
	t.Helper()
	var sb strings.Builder
	deadline := time.After(waitTimeout)
	for !strings.Contains(sb.String(), want) {
		select {
		case ev := <-ch:
			sb.Write(ev.Data)
		case <-deadline:
			t.Fatalf("timed out waiting for %q, got %q", want, sb.String())
		}
	}
	return sb.String()
}

// recordingConn keeps a copy of every byte written to the socket.
type recordingConn struct {
	net.Conn

	mu      sync.Mutex
	written bytes.Buffer
}

func (c *recordingConn) Write(p []byte) (int, error) {
	n, err := c.Conn.Write(p)
	c.mu.Lock()
	c.written.Write(p[:n])
	c.mu.Unlock()
	return n, err
}

// Len returns the number of bytes written so far.
func (c *recordingConn) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Len()
}

// Since returns the bytes written after the first off bytes.
func (c *recordingConn) Since(off int) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.written.Bytes()[off:]...)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func debugLogger(w *syncBuffer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
