package transport_test

import (
	"net"
	"testing"
	"time"

	"github.com/mash-protocol/starttls-go/pkg/event"
)

const waitTimeout = 5 * time.Second

// tcpPair returns both ends of a loopback TCP connection.
func tcpPair(t *testing.T) (server, client net.Conn) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
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
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	server = <-accepted
	if server == nil {
		t.Fatal("accept failed")
	}

	t.Cleanup(func() {
		server.Close()
		client.Close()
	})
	return server, client
}

// collect forwards events called name into a buffered channel.
func collect(em *event.Emitter, name event.Name) chan event.Event {
	ch := make(chan event.Event, 64)
	em.On(name, func(ev event.Event) { ch <- ev })
	return ch
}

func waitFor(t *testing.T, ch <-chan event.Event, what string) event.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		return event.Event{}
	}
}

func expectNone(t *testing.T, ch <-chan event.Event, d time.Duration, what string) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected %s: %+v", what, ev)
	case <-time.After(d):
	}
}

func readN(t *testing.T, c net.Conn, n int) string {
	t.Helper()
	buf := make([]byte, n)
	_ = c.SetReadDeadline(time.Now().Add(waitTimeout))
	got := 0
	for got < n {
		m, err := c.Read(buf[got:])
		if err != nil {
			t.Fatalf("read after %d bytes: %v", got, err)
		}
		got += m
	}
	return string(buf)
}
