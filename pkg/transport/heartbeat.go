package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// DefaultHeartbeatInterval is the secondary's TIME_SYNC period.
	DefaultHeartbeatInterval = 2 * time.Second

	// DefaultMaxMissed is the number of silent intervals after which the
	// primary declares the link broken.
	DefaultMaxMissed = 3
)

// HeartbeatConfig configures link liveness.
type HeartbeatConfig struct {
	Interval  time.Duration
	MaxMissed int
}

// DefaultHeartbeatConfig returns the default heartbeat configuration.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{Interval: DefaultHeartbeatInterval, MaxMissed: DefaultMaxMissed}
}

// DetectionDelay is how long the receiving side waits before declaring the
// link broken.
func (c HeartbeatConfig) DetectionDelay() time.Duration {
	return c.Interval * time.Duration(c.MaxMissed)
}

// Heartbeat calls beat every interval until stopped or until beat fails, in
// which case onFailure runs once.
type Heartbeat struct {
	config    HeartbeatConfig
	clock     clockwork.Clock
	beat      func() error
	onFailure func(error)

	sent atomic.Uint64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewHeartbeat creates a heartbeat. A nil clock uses the real clock.
func NewHeartbeat(config HeartbeatConfig, clock clockwork.Clock, beat func() error, onFailure func(error)) *Heartbeat {
	if config.Interval <= 0 {
		config.Interval = DefaultHeartbeatInterval
	}
	if config.MaxMissed <= 0 {
		config.MaxMissed = DefaultMaxMissed
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Heartbeat{config: config, clock: clock, beat: beat, onFailure: onFailure}
}

// Start begins beating. The first beat is sent immediately.
func (h *Heartbeat) Start(ctx context.Context) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.running {
		return
	}
	h.running = true
	h.stopCh = make(chan struct{})
	h.doneCh = make(chan struct{})
	go h.loop(ctx, h.stopCh, h.doneCh)
}

// Stop ends the loop and waits for it to exit.
func (h *Heartbeat) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	close(h.stopCh)
	done := h.doneCh
	h.mu.Unlock()
	<-done
}

// Sent returns the number of successful beats.
func (h *Heartbeat) Sent() uint64 { return h.sent.Load() }

func (h *Heartbeat) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := h.clock.NewTicker(h.config.Interval)
	defer ticker.Stop()

	for {
		if err := h.beat(); err != nil {
			h.mu.Lock()
			h.running = false
			h.mu.Unlock()
			if h.onFailure != nil {
				h.onFailure(err)
			}
			return
		}
		h.sent.Add(1)

		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.Chan():
		}
	}
}
