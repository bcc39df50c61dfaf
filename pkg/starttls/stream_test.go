package starttls

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mash-protocol/starttls-go/pkg/event"
	"github.com/mash-protocol/starttls-go/pkg/log"
	"github.com/mash-protocol/starttls-go/pkg/transport"
)

func TestAttachForwardsEvents(t *testing.T) {
	f := newFake(transport.KindPlain)
	s := NewStream(f, StreamConfig{})

	data := collect(s, event.Data)
	timeouts := collect(s, event.Timeout)

	f.emit(event.Event{Name: event.Data, Data: []byte("hello")})
	f.emit(event.Event{Name: event.Timeout})

	assert.Equal(t, "hello", string(waitFor(t, data, "data").Data))
	waitFor(t, timeouts, "timeout")
	assert.Equal(t, len(forwarded), s.Bindings())
	assert.Equal(t, "192.0.2.7", s.RemoteHost())
	assert.Equal(t, 2525, s.RemotePort())
}

func TestAttachRequiresClean(t *testing.T) {
	first := newFake(transport.KindPlain)
	second := newFake(transport.KindPlain)
	s := NewStream(first, StreamConfig{})

	err := s.Attach(second)
	require.ErrorIs(t, err, ErrStillBound)

	s.Clean()
	require.NoError(t, s.Attach(second))

	data := collect(s, event.Data)
	first.emit(event.Event{Name: event.Data, Data: []byte("old")})
	second.emit(event.Event{Name: event.Data, Data: []byte("new")})

	assert.Equal(t, "new", string(waitFor(t, data, "data").Data))
	expectNone(t, data, 50*time.Millisecond, "data from cleaned transport")
	assert.Zero(t, first.Events().ListenerCount(event.Data))
	assert.Equal(t, 1, second.Events().ListenerCount(event.Data))
}

func TestCleanDetachesAndDiscardsWrites(t *testing.T) {
	f := newFake(transport.KindPlain)
	s := NewStream(f, StreamConfig{})
	closes := collect(s, event.Close)

	s.Clean()
	assert.Zero(t, s.Bindings())
	assert.Equal(t, transport.KindDetached, s.Transport().Kind())

	assert.False(t, s.Write([]byte("dropped")))
	assert.False(t, s.Writable())
	assert.False(t, s.Readable())
	assert.Empty(t, f.Written())

	f.emit(event.Event{Name: event.Close})
	expectNone(t, closes, 50*time.Millisecond, "close from cleaned transport")
}

func TestWriteForwardsToBoundTransport(t *testing.T) {
	f := newFake(transport.KindPlain)
	mem := &log.MemoryLogger{}
	s := NewStream(f, StreamConfig{ProtocolLogger: mem, ConnID: "conn-1"})

	assert.True(t, s.WriteString("EHLO\r\n"))
	assert.Equal(t, []string{"EHLO\r\n"}, f.Written())

	out := mem.Matching(log.Filter{Category: ptr(log.CategoryData)})
	require.Len(t, out, 1)
	assert.Equal(t, "conn-1", out[0].ConnectionID)
	assert.Equal(t, log.DirectionOut, out[0].Direction)
	assert.Equal(t, log.LayerPlain, out[0].Layer)
	assert.Equal(t, "EHLO\r\n", string(out[0].Data.Data))
}

func TestErrorIsSingleShot(t *testing.T) {
	f := newFake(transport.KindPlain)
	s := NewStream(f, StreamConfig{})
	errs := collect(s, event.Error)

	f.emit(event.Event{Name: event.Error, Err: io.ErrUnexpectedEOF})
	f.emit(event.Event{Name: event.Error, Err: io.EOF})

	assert.ErrorIs(t, waitFor(t, errs, "error").Err, io.ErrUnexpectedEOF)
	expectNone(t, errs, 50*time.Millisecond, "second error")
}

func TestCloseEmittedOnce(t *testing.T) {
	f := newFake(transport.KindPlain)
	s := NewStream(f, StreamConfig{})
	closes := collect(s, event.Close)

	f.emit(event.Event{Name: event.Close, HadError: true})
	f.emit(event.Event{Name: event.Close})

	assert.True(t, waitFor(t, closes, "close").HadError)
	expectNone(t, closes, 50*time.Millisecond, "second close")
}

func TestSecureAliasedAsSecureConnection(t *testing.T) {
	f := newFake(transport.KindSecure)
	s := NewStream(f, StreamConfig{})
	secure := collect(s, event.Secure)
	alias := collect(s, event.SecureConnection)

	f.emit(event.Event{Name: event.Secure})

	waitFor(t, secure, "secure")
	waitFor(t, alias, "secureConnection")
}

func TestHandlerMayCallStream(t *testing.T) {
	f := newFake(transport.KindPlain)
	s := NewStream(f, StreamConfig{})

	done := make(chan struct{})
	s.On(event.Data, func(ev event.Event) {
		s.Write(ev.Data)
		s.Pause()
		s.SetTimeout(time.Second)
		close(done)
	})

	f.emit(event.Event{Name: event.Data, Data: []byte("echo")})
	waitFor(t, done, "handler")
	assert.Equal(t, []string{"echo"}, f.Written())
}

func TestPauseClearsReadable(t *testing.T) {
	sc, _ := tcpPair(t)
	raw := transport.NewPlain(sc)
	s := NewStream(raw, StreamConfig{})
	t.Cleanup(func() { _ = s.Destroy() })
	raw.Start()

	require.True(t, s.Readable())
	s.Pause()
	assert.False(t, s.Readable())
	s.Resume()
	assert.True(t, s.Readable())
}

func TestDestroyIsIdempotent(t *testing.T) {
	errBoom := errors.New("boom")
	m := &mockDestroyer{fakeTransport: newFake(transport.KindPlain)}
	m.On("Destroy").Return(errBoom).Once()

	s := NewStream(m, StreamConfig{})

	assert.ErrorIs(t, s.Destroy(), errBoom)
	assert.NoError(t, s.Destroy())
	assert.False(t, s.Write([]byte("late")))
	m.AssertNumberOfCalls(t, "Destroy", 1)
}

func TestDestroyDetachedEmitsClose(t *testing.T) {
	s := NewStream(nil, StreamConfig{})
	closes := collect(s, event.Close)

	require.NoError(t, s.Destroy())
	waitFor(t, closes, "close")
	expectNone(t, closes, 50*time.Millisecond, "second close")

	assert.ErrorIs(t, s.Attach(newFake(transport.KindPlain)), ErrDestroyed)
}

func TestSettingsPersistWithoutTransport(t *testing.T) {
	s := NewStream(nil, StreamConfig{})

	s.SetTimeout(3 * time.Second)
	require.NoError(t, s.SetKeepAlive(true))
	require.NoError(t, s.SetNoDelay(true))

	assert.Equal(t, 3*time.Second, s.Timeout())
	assert.True(t, s.KeepAlive())
	assert.Nil(t, s.RemoteAddr())
	assert.Zero(t, s.RemotePort())
}

func TestUpgradeRequiresPlain(t *testing.T) {
	s := NewStream(newFake(transport.KindPlain), StreamConfig{Side: SideClient})
	assert.ErrorIs(t, s.Upgrade(nil, nil), ErrNotPlain)

	s.Clean()
	assert.ErrorIs(t, s.Upgrade(nil, nil), ErrNotPlain)

	require.NoError(t, s.Destroy())
	assert.ErrorIs(t, s.Upgrade(nil, nil), ErrDestroyed)
}

func TestUpgradeInvalidConfigLeavesStreamBound(t *testing.T) {
	sc, _ := tcpPair(t)
	plain := transport.NewPlain(sc)
	s := NewStream(plain, StreamConfig{Side: SideServer})

	err := s.Upgrade(&transport.TLSConfig{}, nil)
	require.ErrorIs(t, err, transport.ErrNoCertificate)

	assert.Equal(t, StatePlain, s.UpgradeState())
	assert.Equal(t, plain, s.Transport())
	assert.Equal(t, len(forwarded), s.Bindings())
	assert.False(t, plain.Released())
}

func TestUpgradeBeforeConnectRestoresPlain(t *testing.T) {
	plain := transport.NewPendingPlain()
	s := NewStream(plain, StreamConfig{Side: SideClient, Host: "localhost"})

	err := s.Upgrade(nil, nil)
	require.ErrorIs(t, err, transport.ErrNotConnected)

	assert.Equal(t, StatePlain, s.UpgradeState())
	assert.Equal(t, plain, s.Transport())
	assert.Equal(t, len(forwarded), s.Bindings())
}

func ptr[T any](v T) *T { return &v }
