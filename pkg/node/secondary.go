package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sprintgate/sprintgate-go/pkg/connection"
	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/log"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/sensor"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
	"github.com/sprintgate/sprintgate-go/pkg/transport"
	"github.com/sprintgate/sprintgate-go/pkg/wire"
)

// ErrLinkDown is reported for a trigger produced while the gate link is
// down. The trigger is dropped.
var ErrLinkDown = errors.New("gate link down")

// Resolver returns the primary's address for one connection attempt.
type Resolver func(ctx context.Context) (string, error)

// SecondaryConfig configures a Secondary.
type SecondaryConfig struct {
	// Address is the primary's gate link address. When empty, Resolve is
	// called before every attempt.
	Address string

	// Resolve finds the primary, typically over mDNS.
	Resolve Resolver

	// Mode is the configured timing mode, resolved on Start.
	Mode timing.Mode

	// LockTimeout bounds GPS lock acquisition during resolution.
	LockTimeout time.Duration

	// Sync is the slave synchronizer. Required.
	Sync *timing.Synchronizer

	// Sensor is the finish gate. Required.
	Sensor *sensor.Sensor

	// Display shows RDY, CONN, TRIG and ERR (optional).
	Display display.Display

	// TriggerHold is how long TRIG stays on the display.
	TriggerHold time.Duration

	// Backoff is the fixed wait between connection attempts (default 5s).
	Backoff time.Duration

	// ConnectTimeout bounds each attempt.
	ConnectTimeout time.Duration

	// Heartbeat is the TIME_SYNC schedule.
	Heartbeat transport.HeartbeatConfig

	Capture log.Logger
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// SecondaryStatus is a point-in-time view of the secondary.
type SecondaryStatus struct {
	Link       connection.State
	TimingMode timing.Mode
	Runner     string
	LastFinish *wire.RaceFinish
	Sent       uint64
	Dropped    uint64
	Display    string
}

// Secondary runs the finish gate and the client end of the gate link.
type Secondary struct {
	config    SecondaryConfig
	manager   *connection.Manager
	indicator *display.Indicator
	clock     clockwork.Clock
	logger    *slog.Logger

	mu         sync.Mutex
	state      State
	runCtx     context.Context
	cancel     context.CancelFunc
	conn       *transport.ClientConn
	heartbeat  *transport.Heartbeat
	runner     string
	lastFinish *wire.RaceFinish

	sent    atomic.Uint64
	dropped atomic.Uint64

	wg sync.WaitGroup
}

// NewSecondary creates a secondary node.
func NewSecondary(config SecondaryConfig) (*Secondary, error) {
	if config.Sync == nil || config.Sensor == nil {
		return nil, fmt.Errorf("%w: secondary needs a synchronizer and a sensor", ErrInvalidConfig)
	}
	if config.Address == "" && config.Resolve == nil {
		return nil, fmt.Errorf("%w: secondary needs an address or a resolver", ErrInvalidConfig)
	}
	if config.Backoff <= 0 {
		config.Backoff = 5 * time.Second
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = transport.DefaultHeartbeatConfig()
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Display == nil {
		config.Display = display.NewRecorder()
	}
	if config.TriggerHold <= 0 {
		config.TriggerHold = display.DefaultTriggerHold
	}

	s := &Secondary{
		config:    config,
		clock:     config.Clock,
		logger:    config.Logger.With("component", "secondary"),
		indicator: display.NewIndicator(config.Display, config.Clock, config.TriggerHold),
	}
	s.manager = connection.NewManager(s.connect, connection.Config{
		Backoff:        config.Backoff,
		ConnectTimeout: config.ConnectTimeout,
		Clock:          config.Clock,
		Logger:         config.Logger,
	})
	s.manager.OnStateChange(func(_, next connection.State) {
		if next == connection.StateConnecting {
			s.indicator.Connecting()
		}
	})
	s.manager.OnConnected(s.indicator.Ready)
	s.manager.OnDisconnected(func(error) {
		s.indicator.Error()
		s.teardown()
	})
	return s, nil
}

// Start resolves the timing mode and starts the reconnect and sensor loops.
func (s *Secondary) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = StateRunning
	s.mu.Unlock()

	mode := s.config.Sync.ResolveMode(ctx, s.config.Mode, s.config.LockTimeout)

	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.spawn(func() { _ = s.config.Sync.Run(runCtx) })
	s.spawn(func() {
		if err := s.manager.Run(runCtx); err != nil && !errors.Is(err, connection.ErrClosed) && !errors.Is(err, context.Canceled) {
			s.logger.Warn("reconnect loop ended", "error", err)
		}
	})
	s.spawn(func() { s.sensorLoop(runCtx) })

	s.logger.Info("secondary started", "primary", s.config.Address, "timing_mode", mode)
	return nil
}

// Stop closes the link and waits for every loop to exit.
func (s *Secondary) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.state = StateStopped
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.manager.Close()
	s.teardown()
	s.wg.Wait()
	s.indicator.Stop()
	s.logger.Info("secondary stopped")
	return nil
}

// State returns the lifecycle state.
func (s *Secondary) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Status returns link, race and counter information.
func (s *Secondary) Status() SecondaryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SecondaryStatus{
		Link:       s.manager.State(),
		TimingMode: s.config.Sync.Mode(),
		Runner:     s.runner,
		LastFinish: s.lastFinish,
		Sent:       s.sent.Load(),
		Dropped:    s.dropped.Load(),
		Display:    s.indicator.Text(),
	}
}

func (s *Secondary) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

func (s *Secondary) address(ctx context.Context) (string, error) {
	if s.config.Address != "" {
		return s.config.Address, nil
	}
	addr, err := s.config.Resolve(ctx)
	if err != nil {
		return "", fmt.Errorf("resolve primary: %w", err)
	}
	return addr, nil
}

// connect is the reconnect loop's attempt: dial, then start the reader and
// the heartbeat on the run context.
func (s *Secondary) connect(ctx context.Context) error {
	addr, err := s.address(ctx)
	if err != nil {
		return err
	}
	conn, err := transport.Dial(ctx, addr, transport.DialConfig{
		ConnectTimeout: s.config.ConnectTimeout,
		Capture:        s.config.Capture,
	})
	if err != nil {
		return err
	}

	hb := transport.NewHeartbeat(s.config.Heartbeat, s.clock,
		func() error { return s.send(conn, s.timeSync()) },
		func(err error) { s.lost(conn, fmt.Errorf("heartbeat: %w", err)) },
	)

	s.mu.Lock()
	runCtx := s.runCtx
	s.conn = conn
	s.heartbeat = hb
	s.mu.Unlock()

	s.spawn(func() { s.readLoop(conn) })
	hb.Start(runCtx)
	s.logger.Info("connected to primary", "addr", addr, "conn_id", conn.ConnID())
	return nil
}

func (s *Secondary) timeSync() wire.TimeSync {
	mode := s.config.Sync.Mode()
	return wire.TimeSync{
		TimingMode: mode,
		Timestamp:  model.UnixSeconds(s.config.Sync.Timestamp()),
		Precision:  mode.Precision(),
	}
}

// lost reports a failure on conn unless it has already been replaced.
func (s *Secondary) lost(conn *transport.ClientConn, err error) {
	s.mu.Lock()
	if s.conn != conn {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.manager.NotifyConnectionLost(err)
}

// teardown closes the current connection and stops its heartbeat.
func (s *Secondary) teardown() {
	s.mu.Lock()
	conn, hb := s.conn, s.heartbeat
	s.conn, s.heartbeat = nil, nil
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if hb != nil {
		hb.Stop()
	}
}

func (s *Secondary) readLoop(conn *transport.ClientConn) {
	for {
		data, err := conn.Receive(0)
		if err != nil {
			s.lost(conn, err)
			return
		}
		s.handleMessage(data)
	}
}

func (s *Secondary) handleMessage(data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		s.logger.Warn("dropping malformed message", "error", err)
		return
	}

	switch env.Type {
	case wire.TypeWiredSync:
		ws, err := wire.DecodePayload[wire.WiredSync](env)
		if err != nil {
			s.logger.Warn("dropping malformed wired sync", "error", err)
			return
		}
		if err := s.config.Sync.AnnounceAnchor(model.FromUnixSeconds(ws.Anchor)); err != nil {
			s.logger.Warn("wired anchor not bound", "error", err)
		}

	case wire.TypeTimingMode:
		tm, err := wire.DecodePayload[wire.TimingMode](env)
		if err != nil {
			s.logger.Warn("dropping malformed timing mode", "error", err)
			return
		}
		if own := s.config.Sync.Mode(); tm.TimingMode != own {
			s.logger.Warn("primary timing mode differs", "primary", tm.TimingMode, "secondary", own)
		}

	case wire.TypeGPSStatus:
		gs, err := wire.DecodePayload[wire.GPSStatus](env)
		if err == nil {
			s.logger.Debug("primary gps status", "status", gs.Status, "satellites", gs.Satellites)
		}

	case wire.TypeCurrentRunner:
		cr, err := wire.DecodePayload[wire.CurrentRunner](env)
		if err != nil {
			s.logger.Warn("dropping malformed current runner", "error", err)
			return
		}
		s.mu.Lock()
		s.runner = cr.Name
		s.mu.Unlock()
		s.logger.Info("runner armed on primary", "runner_id", cr.RunnerID, "runner", cr.Name)

	case wire.TypeRaceStart:
		rs, err := wire.DecodePayload[wire.RaceStart](env)
		if err == nil {
			s.logger.Info("race started", "runner_id", rs.RunnerID)
		}

	case wire.TypeRaceFinish:
		rf, err := wire.DecodePayload[wire.RaceFinish](env)
		if err != nil {
			s.logger.Warn("dropping malformed race finish", "error", err)
			return
		}
		s.mu.Lock()
		s.lastFinish = &rf
		s.mu.Unlock()
		s.logger.Info("race finished", "runner", rf.Name, "duration", display.FormatTime(rf.Duration))

	default:
		s.logger.Debug("ignoring message", "type", env.Type)
	}
}

func (s *Secondary) sensorLoop(ctx context.Context) {
	events := make(chan model.TriggerEvent, 8)
	done := make(chan error, 1)
	go func() { done <- s.config.Sensor.Run(ctx, events) }()

	for {
		select {
		case evt := <-events:
			if err := s.forward(evt); err != nil {
				s.dropped.Add(1)
				s.logger.Warn("finish trigger dropped", "seq", evt.Sequence, "error", err)
			}
		case err := <-done:
			if err != nil {
				s.logger.Error("finish gate sensor stopped", "error", err)
			}
			return
		}
	}
}

// forward sends one trigger to the primary. Delivery is at most once.
func (s *Secondary) forward(evt model.TriggerEvent) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil || !s.manager.IsConnected() {
		return ErrLinkDown
	}

	if err := s.send(conn, wire.NewGateTrigger(evt)); err != nil {
		s.lost(conn, err)
		return err
	}
	s.sent.Add(1)
	s.indicator.Triggered()
	s.logger.Info("finish trigger sent", "seq", evt.Sequence, "at", evt.Timestamp)
	return nil
}

func (s *Secondary) send(conn *transport.ClientConn, payload any) error {
	data, err := wire.Encode(payload, s.config.Sync.Timestamp())
	if err != nil {
		return err
	}
	return conn.Send(data)
}
