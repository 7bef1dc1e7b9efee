package connection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

var (
	// ErrNotConnected is returned when the link is needed but down.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned by Run after Close.
	ErrClosed = errors.New("connection manager closed")
)

// State is the link state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnectFunc establishes the connection. It returns nil once connected.
type ConnectFunc func(ctx context.Context) error

// Config configures a Manager.
type Config struct {
	// Backoff is the fixed wait between attempts. Defaults to 5s.
	Backoff time.Duration

	// ConnectTimeout bounds each attempt (default 5s).
	ConnectTimeout time.Duration

	Clock  clockwork.Clock
	Logger *slog.Logger
}

// Manager runs the connect / wait / retry loop.
type Manager struct {
	connectFn ConnectFunc
	backoff   *Backoff
	timeout   time.Duration
	clock     clockwork.Clock
	logger    *slog.Logger

	mu     sync.RWMutex
	state  State
	lostCh chan error

	closeOnce sync.Once
	closeCh   chan struct{}

	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func(reason error)
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a manager.
func NewManager(connectFn ConnectFunc, cfg Config) *Manager {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		connectFn: connectFn,
		backoff:   NewBackoff(cfg.Backoff),
		timeout:   cfg.ConnectTimeout,
		clock:     cfg.Clock,
		logger:    cfg.Logger.With("component", "connection"),
		state:     StateDisconnected,
		lostCh:    make(chan error, 1),
		closeCh:   make(chan struct{}),
	}
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected reports whether the link is up.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// Attempts returns the number of backoff waits since the last success.
func (m *Manager) Attempts() int {
	return m.backoff.Attempts()
}

// Run connects and keeps the link up until ctx is cancelled or Close is
// called.
func (m *Manager) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.closeCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if !m.setState(StateConnecting) {
			return ErrClosed
		}

		actx, acancel := context.WithTimeout(ctx, m.timeout)
		err := m.connectFn(actx)
		acancel()

		if err == nil {
			m.backoff.Reset()
			if !m.setState(StateConnected) {
				return ErrClosed
			}
			m.logger.Info("gate link connected")
			if cb := m.callbacks().onConnected; cb != nil {
				cb()
			}

			select {
			case <-ctx.Done():
				m.setState(StateDisconnected)
				return m.exitErr(ctx)
			case err = <-m.lostCh:
			}
			m.logger.Warn("gate link lost", "error", err)
		} else {
			if ctx.Err() != nil {
				m.setState(StateDisconnected)
				return m.exitErr(ctx)
			}
			m.logger.Warn("gate link connect failed", "error", err)
		}

		if !m.setState(StateDisconnected) {
			return ErrClosed
		}
		if cb := m.callbacks().onDisconnected; cb != nil {
			cb(err)
		}

		delay := m.backoff.Next()
		if cb := m.callbacks().onReconnecting; cb != nil {
			cb(m.backoff.Attempts(), delay)
		}
		select {
		case <-ctx.Done():
			return m.exitErr(ctx)
		case <-m.clock.After(delay):
		}
	}
}

func (m *Manager) exitErr(ctx context.Context) error {
	select {
	case <-m.closeCh:
		return ErrClosed
	default:
	}
	return ctx.Err()
}

// NotifyConnectionLost reports a broken connection. It is ignored unless
// the link is connected or an attempt is in progress.
func (m *Manager) NotifyConnectionLost(reason error) {
	if s := m.State(); s != StateConnected && s != StateConnecting {
		return
	}
	if reason == nil {
		reason = ErrNotConnected
	}
	select {
	case m.lostCh <- reason:
	default:
	}
}

// Close stops the manager. Run returns ErrClosed.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
		m.setState(StateClosed)
	})
}

// setState records a transition and reports false once closed.
func (m *Manager) setState(next State) bool {
	m.mu.Lock()
	prev := m.state
	if prev == StateClosed {
		m.mu.Unlock()
		return false
	}
	m.state = next
	if next == StateConnecting {
		// Drain a loss reported for the previous connection.
		select {
		case <-m.lostCh:
		default:
		}
	}
	cb := m.onStateChange
	m.mu.Unlock()

	if cb != nil && prev != next {
		cb(prev, next)
	}
	return true
}

type callbacks struct {
	onConnected    func()
	onDisconnected func(error)
	onReconnecting func(int, time.Duration)
}

func (m *Manager) callbacks() callbacks {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return callbacks{m.onConnected, m.onDisconnected, m.onReconnecting}
}

// OnStateChange sets a callback for every state transition.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback for successful connections.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback for failed attempts and lost links.
func (m *Manager) OnDisconnected(fn func(reason error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}
