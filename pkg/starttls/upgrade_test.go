package starttls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

type streamPair struct {
	server, client       *Stream
	serverRaw, clientRaw *transport.Plain
}

// newStreamPair builds a server and a client stream over a loopback
// connection. start begins reading once listeners are registered.
func newStreamPair(t *testing.T, serverCfg, clientCfg StreamConfig) (streamPair, func()) {
	t.Helper()
	sc, cc := tcpPair(t)
	return newStreamPairConns(t, sc, cc, serverCfg, clientCfg)
}

func newStreamPairConns(t *testing.T, sc, cc net.Conn, serverCfg, clientCfg StreamConfig) (streamPair, func()) {
	t.Helper()

	sp := transport.NewPlain(sc)
	cp := transport.NewPlain(cc)

	serverCfg.Side = SideServer
	clientCfg.Side = SideClient
	if clientCfg.Host == "" {
		clientCfg.Host = "localhost"
	}

	pair := streamPair{
		server:    NewStream(sp, serverCfg),
		client:    NewStream(cp, clientCfg),
		serverRaw: sp,
		clientRaw: cp,
	}
	t.Cleanup(func() {
		_ = pair.server.Destroy()
		_ = pair.client.Destroy()
	})
	return pair, func() {
		sp.Start()
		cp.Start()
	}
}

func serverTLS(t *testing.T) *transport.TLSConfig {
	t.Helper()
	id := selfSigned(t)
	return &transport.TLSConfig{Certificates: []tls.Certificate{id.TLSCertificate()}}
}

// upgradeBoth runs both handshakes and returns the completion results.
func upgradeBoth(t *testing.T, p streamPair, serverCfg, clientCfg *transport.TLSConfig) (Result, Result) {
	t.Helper()

	serverDone := make(chan Result, 1)
	clientDone := make(chan Result, 1)
	require.NoError(t, p.server.Upgrade(serverCfg, func(r Result) { serverDone <- r }))
	require.NoError(t, p.client.Upgrade(clientCfg, func(r Result) { clientDone <- r }))

	return waitFor(t, serverDone, "server completion"), waitFor(t, clientDone, "client completion")
}

func TestUpgradeSelfSignedDefaults(t *testing.T) {
	sc, cc := tcpPair(t)
	wire := &recordingConn{Conn: cc}
	p, start := newStreamPairConns(t, sc, wire, StreamConfig{}, StreamConfig{})
	serverData := collect(p.server, event.Data)
	serverSecure := collect(p.server, event.Secure)
	clientSecure := collect(p.client, event.Secure)
	start()

	serverResult, clientResult := upgradeBoth(t, p, serverTLS(t), nil)

	assert.False(t, clientResult.Authorized)
	var authErr *transport.AuthorizationError
	require.ErrorAs(t, clientResult.AuthorizationError, &authErr)
	assert.Equal(t, transport.CodeSelfSigned, authErr.Code)
	assert.NotNil(t, clientResult.PeerCertificate)
	assert.NotEmpty(t, clientResult.Cipher.Name)

	assert.False(t, serverResult.Authorized)
	assert.NoError(t, serverResult.AuthorizationError)
	assert.Nil(t, serverResult.PeerCertificate)

	waitFor(t, serverSecure, "server secure")
	waitFor(t, clientSecure, "client secure")
	assert.Equal(t, StateApplicationOwned, p.server.UpgradeState())
	assert.Equal(t, StateApplicationOwned, p.client.UpgradeState())
	assert.Equal(t, transport.KindSecure, p.client.Transport().Kind())

	r, ok := p.client.Result()
	require.True(t, ok)
	assert.Equal(t, clientResult.Cipher, r.Cipher)

	mark := wire.Len()
	require.True(t, p.client.WriteString("ping"))
	assert.Equal(t, "ping", readUntil(t, serverData, "ping"))

	sent := wire.Since(mark)
	assert.NotEmpty(t, sent, "nothing written to the socket")
	assert.NotContains(t, string(sent), "ping", "application data sent in cleartext")
}

func TestUpgradeKeepsBytesReadDuringHandoff(t *testing.T) {
	sc, cc := tcpPair(t)
	raw := transport.NewPlain(sc)
	s := NewStream(raw, StreamConfig{Side: SideServer})
	t.Cleanup(func() { _ = s.Destroy() })
	cfg := serverTLS(t)

	handshake := make(chan error, 1)
	completed := make(chan Result, 1)
	s.Once(event.Timeout, func(event.Event) {
		peer := tls.Client(cc, &tls.Config{InsecureSkipVerify: true, ServerName: "localhost"})
		go func() { handshake <- peer.Handshake() }()

		// The read pump picks up the ClientHello while this handler still
		// holds event delivery.
		time.Sleep(200 * time.Millisecond)
		assert.NoError(t, s.Upgrade(cfg, func(r Result) { completed <- r }))
	})
	s.SetTimeout(50 * time.Millisecond)
	raw.Start()

	require.NoError(t, waitFor(t, handshake, "peer handshake"))
	waitFor(t, completed, "server completion")
	assert.Equal(t, StateApplicationOwned, s.UpgradeState())
}

func TestUpgradeKeepsWriteOrder(t *testing.T) {
	const writes = 2000

	for round := 0; round < 5; round++ {
		t.Run(fmt.Sprintf("round%d", round), func(t *testing.T) {
			p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
			serverData := collect(p.server, event.Data)
			start()

			require.NoError(t, p.server.Upgrade(serverTLS(t), nil))
			require.NoError(t, p.client.Upgrade(nil, nil))
			go func() {
				for i := 0; i < writes; i++ {
					p.client.WriteString(strconv.Itoa(i) + ",")
				}
			}()

			var sb strings.Builder
			deadline := time.After(waitTimeout)
			for strings.Count(sb.String(), ",") < writes {
				select {
				case ev := <-serverData:
					sb.Write(ev.Data)
				case <-deadline:
					t.Fatalf("received %d of %d writes", strings.Count(sb.String(), ","), writes)
				}
			}

			nums := strings.Split(strings.TrimSuffix(sb.String(), ","), ",")
			require.Len(t, nums, writes)
			for i, n := range nums {
				if n != strconv.Itoa(i) {
					t.Fatalf("position %d holds write %s", i, n)
				}
			}
		})
	}
}

func TestUpgradeFromDataHandler(t *testing.T) {
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
	cfg := serverTLS(t)

	serverData := make(chan event.Event, 64)
	p.server.On(event.Data, func(ev event.Event) {
		serverData <- ev
		if strings.Contains(string(ev.Data), "STARTTLS") {
			p.server.WriteString("220 go ahead\r\n")
			assert.NoError(t, p.server.Upgrade(cfg, nil))
		}
	})

	clientDone := make(chan Result, 1)
	p.client.On(event.Data, func(ev event.Event) {
		if strings.HasPrefix(string(ev.Data), "220") {
			assert.NoError(t, p.client.Upgrade(nil, func(r Result) { clientDone <- r }))
		}
	})
	start()

	p.client.WriteString("STARTTLS\r\n")
	readUntil(t, serverData, "STARTTLS")

	waitFor(t, clientDone, "client completion")
	p.client.WriteString("hello")

	// Only decrypted application data reaches the server's listener.
	got := readUntil(t, serverData, "hello")
	assert.Equal(t, "hello", got)
}

func TestUpgradeBuffersHandoffWrites(t *testing.T) {
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
	serverData := collect(p.server, event.Data)
	clientDrain := collect(p.client, event.Drain)
	start()

	serverDone := make(chan Result, 1)
	clientDone := make(chan Result, 1)
	require.NoError(t, p.server.Upgrade(serverTLS(t), func(r Result) { serverDone <- r }))
	require.NoError(t, p.client.Upgrade(nil, func(r Result) { clientDone <- r }))

	// The client handshake cannot complete before the server answers, but
	// the write must not be lost either way.
	p.client.WriteString("early")
	waitFor(t, clientDone, "client completion")
	waitFor(t, serverDone, "server completion")

	assert.Equal(t, "early", readUntil(t, serverData, "early"))
	select {
	case <-clientDrain:
	case <-time.After(100 * time.Millisecond):
		// The write landed after completion; no drain is owed.
	}
}

func TestUpgradeMigratesSettings(t *testing.T) {
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
	start()

	p.client.SetTimeout(time.Minute)
	require.NoError(t, p.client.SetKeepAlive(true))

	upgradeBoth(t, p, serverTLS(t), nil)

	secure, ok := p.client.Transport().(*transport.Secure)
	require.True(t, ok)
	assert.Equal(t, time.Minute, secure.Timeout())
	assert.True(t, secure.KeepAlive())
	assert.Equal(t, p.clientRaw, secure.Raw())
}

func TestUpgradeTwice(t *testing.T) {
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
	start()

	cfg := serverTLS(t)
	require.NoError(t, p.server.Upgrade(cfg, nil))
	assert.ErrorIs(t, p.server.Upgrade(cfg, nil), ErrUpgradeInProgress)

	clientDone := make(chan Result, 1)
	require.NoError(t, p.client.Upgrade(nil, func(r Result) { clientDone <- r }))
	waitFor(t, clientDone, "client completion")
	assert.ErrorIs(t, p.client.Upgrade(nil, nil), ErrAlreadySecure)
}

func TestUpgradeRejectUnauthorized(t *testing.T) {
	var logs syncBuffer
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{Logger: debugLogger(&logs)})
	clientErrs := collect(p.client, event.Error)
	clientCloses := collect(p.client, event.Close)
	start()

	completed := make(chan Result, 1)
	require.NoError(t, p.server.Upgrade(serverTLS(t), nil))
	require.NoError(t, p.client.Upgrade(
		&transport.TLSConfig{RejectUnauthorized: transport.Bool(true)},
		func(r Result) { completed <- r },
	))

	ev := waitFor(t, clientErrs, "client error")
	var authErr *transport.AuthorizationError
	require.ErrorAs(t, ev.Err, &authErr)
	assert.Equal(t, transport.CodeSelfSigned, authErr.Code)

	assert.True(t, waitFor(t, clientCloses, "client close").HadError)
	expectNone(t, completed, 100*time.Millisecond, "completion")
	expectNone(t, clientCloses, 50*time.Millisecond, "second close")

	assert.Equal(t, StateFailed, p.client.UpgradeState())
	assert.Contains(t, logs.String(), "client TLS error")
	assert.Contains(t, logs.String(), transport.CodeSelfSigned)
}

func TestDestroyDuringUpgrade(t *testing.T) {
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{})
	closes := collect(p.server, event.Close)
	secure := collect(p.server, event.Secure)
	start()

	completed := make(chan Result, 1)
	require.NoError(t, p.server.Upgrade(serverTLS(t), func(r Result) { completed <- r }))
	assert.Equal(t, StateSetup, p.server.UpgradeState())

	require.NoError(t, p.server.Destroy())
	require.NoError(t, p.server.Destroy())

	waitFor(t, closes, "close")
	expectNone(t, closes, 100*time.Millisecond, "second close")
	expectNone(t, completed, 10*time.Millisecond, "completion")
	expectNone(t, secure, 10*time.Millisecond, "secure")

	assert.Eventually(t, func() bool {
		return p.serverRaw.Events().ListenerCount(event.Error) == 0 &&
			p.serverRaw.Events().ListenerCount(event.Close) == 0
	}, waitTimeout, 10*time.Millisecond, "bridge still subscribed")
}

func TestUpgradeCapturesProtocol(t *testing.T) {
	mem := &log.MemoryLogger{}
	p, start := newStreamPair(t, StreamConfig{}, StreamConfig{ProtocolLogger: mem})
	start()

	upgradeBoth(t, p, serverTLS(t), nil)

	hs := mem.Matching(log.Filter{Category: ptr(log.CategoryHandshake)})
	require.Len(t, hs, 1)
	assert.Equal(t, log.RoleClient, hs[0].LocalRole)
	assert.Equal(t, transport.CodeSelfSigned, hs[0].Handshake.AuthorizationError)
	assert.Equal(t, "CN=localhost", hs[0].Handshake.PeerSubject)

	var states []string
	for _, ev := range mem.Matching(log.Filter{Category: ptr(log.CategoryState)}) {
		if ev.StateChange.Entity == log.StateEntityUpgrade {
			states = append(states, ev.StateChange.NewState)
		}
	}
	assert.Equal(t, []string{"SETUP", "APPLICATION_OWNED"}, states)
}

func TestBridgeForwardsSocketErrors(t *testing.T) {
	sc, _ := tcpPair(t)
	raw := transport.NewPlain(sc)
	s := NewStream(nil, StreamConfig{Side: SideServer})
	errs := collect(s, event.Error)

	b := newBridge(s, raw)
	raw.Events().Emit(event.Event{Name: event.Error, Err: io.ErrUnexpectedEOF})

	ev := waitFor(t, errs, "bridged error")
	var tErr *transport.TransportError
	require.ErrorAs(t, ev.Err, &tErr)
	assert.ErrorIs(t, ev.Err, io.ErrUnexpectedEOF)

	raw.Events().Emit(event.Event{Name: event.Close})
	assert.Zero(t, raw.Events().ListenerCount(event.Error))
	assert.Zero(t, raw.Events().ListenerCount(event.Close))

	raw.Events().Emit(event.Event{Name: event.Error, Err: io.EOF})
	expectNone(t, errs, 50*time.Millisecond, "error after socket close")
	b.release()
}

func TestBridgeSuppressesSetupErrors(t *testing.T) {
	sc, _ := tcpPair(t)
	raw := transport.NewPlain(sc)
	s := NewStream(nil, StreamConfig{SuppressSetupErrors: true})
	errs := collect(s, event.Error)
	newBridge(s, raw)

	s.mu.Lock()
	s.state = StateSetup
	s.mu.Unlock()
	opErr := &net.OpError{Op: "read", Err: errors.New("connection reset")}
	raw.Events().Emit(event.Event{Name: event.Error, Err: opErr})
	expectNone(t, errs, 50*time.Millisecond, "suppressed error")

	s.mu.Lock()
	s.state = StateApplicationOwned
	s.mu.Unlock()
	raw.Events().Emit(event.Event{Name: event.Error, Err: opErr})
	assert.ErrorIs(t, waitFor(t, errs, "error").Err, opErr)
}
