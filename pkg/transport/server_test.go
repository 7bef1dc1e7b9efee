package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serverEvents struct {
	mu           sync.Mutex
	connected    chan *ServerConn
	disconnected chan *ServerConn
	messages     chan string
	errs         []error
}

func newServerEvents() *serverEvents {
	return &serverEvents{
		connected:    make(chan *ServerConn, 4),
		disconnected: make(chan *ServerConn, 4),
		messages:     make(chan string, 16),
	}
}

func startServer(t *testing.T, idle time.Duration) (*Server, *serverEvents) {
	t.Helper()
	ev := newServerEvents()
	s := NewServer(ServerConfig{
		Address:      "127.0.0.1:0",
		IdleTimeout:  idle,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnConnect:    func(c *ServerConn) { ev.connected <- c },
		OnDisconnect: func(c *ServerConn) { ev.disconnected <- c },
		OnMessage:    func(c *ServerConn, msg []byte) { ev.messages <- string(msg) },
		OnError: func(c *ServerConn, err error) {
			ev.mu.Lock()
			ev.errs = append(ev.errs, err)
			ev.mu.Unlock()
		},
	})
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { s.Stop() })
	return s, ev
}

func waitFor[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func TestServerExchange(t *testing.T) {
	s, ev := startServer(t, -1)

	client, err := Dial(context.Background(), s.Addr().String(), DialConfig{})
	require.NoError(t, err)
	defer client.Close()

	conn := waitFor(t, ev.connected)
	assert.True(t, s.Connected())
	assert.Equal(t, conn, s.Active())

	require.NoError(t, client.Send([]byte("hello")))
	assert.Equal(t, "hello", waitFor(t, ev.messages))

	require.NoError(t, s.Send([]byte("welcome")))
	got, err := client.Receive(time.Second)
	require.NoError(t, err)
	assert.Equal(t, "welcome", string(got))

	client.Close()
	waitFor(t, ev.disconnected)
	assert.False(t, s.Connected())
	assert.ErrorIs(t, s.Send([]byte("x")), ErrNotConnected)
}

func TestServerNewerConnectionSupersedes(t *testing.T) {
	s, ev := startServer(t, -1)

	first, err := Dial(context.Background(), s.Addr().String(), DialConfig{})
	require.NoError(t, err)
	defer first.Close()
	firstConn := waitFor(t, ev.connected)

	second, err := Dial(context.Background(), s.Addr().String(), DialConfig{})
	require.NoError(t, err)
	defer second.Close()
	secondConn := waitFor(t, ev.connected)

	assert.Equal(t, firstConn, waitFor(t, ev.disconnected))
	assert.Equal(t, secondConn, s.Active())

	// The superseded client sees its stream end.
	_, err = first.Receive(time.Second)
	assert.Error(t, err)

	require.NoError(t, second.Send([]byte("still here")))
	assert.Equal(t, "still here", waitFor(t, ev.messages))
}

func TestServerIdleTimeout(t *testing.T) {
	s, ev := startServer(t, 100*time.Millisecond)

	client, err := Dial(context.Background(), s.Addr().String(), DialConfig{})
	require.NoError(t, err)
	defer client.Close()
	waitFor(t, ev.connected)

	waitFor(t, ev.disconnected)
	assert.False(t, s.Connected())

	ev.mu.Lock()
	defer ev.mu.Unlock()
	require.NotEmpty(t, ev.errs)
	assert.True(t, errors.Is(ev.errs[len(ev.errs)-1], ErrIdleTimeout))
}

func TestServerStopIdempotent(t *testing.T) {
	s, _ := startServer(t, -1)
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
}

func TestDialRefused(t *testing.T) {
	_, err := Dial(context.Background(), "127.0.0.1:1", DialConfig{ConnectTimeout: 500 * time.Millisecond})
	assert.Error(t, err)
}
