package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestBackoffFixed(t *testing.T) {
	b := NewBackoff(0)
	for i := 0; i < 4; i++ {
		assert.Equal(t, DefaultBackoff, b.Next())
	}
	assert.Equal(t, 4, b.Attempts())
	b.Reset()
	assert.Equal(t, 0, b.Attempts())

	assert.Equal(t, time.Second, NewBackoff(time.Second).Next())
}

// recorder collects manager callbacks.
type recorder struct {
	mu       sync.Mutex
	states   []string
	waits    []time.Duration
	connects chan struct{}
}

func newRecorder(m *Manager) *recorder {
	r := &recorder{connects: make(chan struct{}, 4)}
	m.OnStateChange(func(o, n State) {
		r.mu.Lock()
		r.states = append(r.states, n.String())
		r.mu.Unlock()
	})
	m.OnReconnecting(func(attempt int, delay time.Duration) {
		r.mu.Lock()
		r.waits = append(r.waits, delay)
		r.mu.Unlock()
	})
	m.OnConnected(func() { r.connects <- struct{}{} })
	return r
}

func (r *recorder) waitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waits)
}

func TestThreeFailuresThreeWaits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var attempts atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		if attempts.Add(1) <= 3 {
			return errors.New("connection refused")
		}
		return nil
	}, Config{Clock: clock, Logger: quiet()})
	rec := newRecorder(m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	for i := 0; i < 3; i++ {
		require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
		clock.Advance(DefaultBackoff)
	}

	select {
	case <-rec.connects:
	case <-time.After(2 * time.Second):
		t.Fatal("never connected")
	}
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, int32(4), attempts.Load())
	assert.Equal(t, 3, rec.waitCount())
	rec.mu.Lock()
	assert.Equal(t, []time.Duration{DefaultBackoff, DefaultBackoff, DefaultBackoff}, rec.waits)
	assert.Equal(t, []string{
		"CONNECTING", "DISCONNECTED",
		"CONNECTING", "DISCONNECTED",
		"CONNECTING", "DISCONNECTED",
		"CONNECTING", "CONNECTED",
	}, rec.states)
	rec.mu.Unlock()
	assert.Equal(t, 0, m.Attempts(), "backoff resets on success")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestLostConnectionWaitsThenReconnects(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var attempts atomic.Int32
	m := NewManager(func(ctx context.Context) error {
		attempts.Add(1)
		return nil
	}, Config{Clock: clock, Logger: quiet(), Backoff: time.Second})
	rec := newRecorder(m)

	var reasons []error
	var reasonsMu sync.Mutex
	m.OnDisconnected(func(err error) {
		reasonsMu.Lock()
		reasons = append(reasons, err)
		reasonsMu.Unlock()
	})

	go m.Run(context.Background())
	defer m.Close()

	<-rec.connects
	heartbeatTimeout := errors.New("heartbeat timeout")
	m.NotifyConnectionLost(heartbeatTimeout)

	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))
	assert.Equal(t, StateDisconnected, m.State())
	clock.Advance(time.Second)

	<-rec.connects
	assert.Equal(t, int32(2), attempts.Load())
	assert.Equal(t, 1, rec.waitCount())

	reasonsMu.Lock()
	defer reasonsMu.Unlock()
	require.Len(t, reasons, 1)
	assert.ErrorIs(t, reasons[0], heartbeatTimeout)
}

func TestNotifyLostIgnoredWhenDisconnected(t *testing.T) {
	m := NewManager(func(ctx context.Context) error { return nil }, Config{Logger: quiet()})
	m.NotifyConnectionLost(errors.New("stale"))
	assert.Equal(t, StateDisconnected, m.State())
}

func TestCloseStopsRun(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewManager(func(ctx context.Context) error { return errors.New("refused") },
		Config{Clock: clock, Logger: quiet()})

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background()) }()
	require.NoError(t, clock.BlockUntilContext(t.Context(), 1))

	m.Close()
	m.Close()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Close")
	}
	assert.Equal(t, StateClosed, m.State())
}
