package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sprintgate/sprintgate-go/pkg/discovery"
	"github.com/sprintgate/sprintgate-go/pkg/log"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/sensor"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
	"github.com/sprintgate/sprintgate-go/pkg/transport"
	"github.com/sprintgate/sprintgate-go/pkg/wire"
)

// PrimaryConfig configures a Primary.
type PrimaryConfig struct {
	// ListenAddress is the gate link address (default ":9999").
	ListenAddress string

	// IdleTimeout overrides the link's heartbeat detection delay.
	IdleTimeout time.Duration

	// Mode is the configured timing mode, resolved on Start.
	Mode timing.Mode

	// LockTimeout bounds GPS lock acquisition during resolution.
	LockTimeout time.Duration

	// Sync is the master synchronizer. Required.
	Sync *timing.Synchronizer

	// Controller is the race state machine. Required.
	Controller *race.Controller

	// Sensor is the start gate. Required.
	Sensor *sensor.Sensor

	// Advertiser announces the gate link over mDNS (optional).
	Advertiser *discovery.Advertiser

	// Instance is the advertised instance name.
	Instance string

	// StatusInterval is the GPS status check period (default 5s).
	StatusInterval time.Duration

	Capture log.Logger
	Clock   clockwork.Clock
	Logger  *slog.Logger
}

// Primary runs the start gate and the race controller.
type Primary struct {
	config PrimaryConfig
	server *transport.Server
	clock  clockwork.Clock
	logger *slog.Logger

	mu        sync.RWMutex
	state     State
	cancel    context.CancelFunc
	lastGPS   timing.GPSStatus
	peerMode  timing.Mode
	lastPeer  time.Time
	remoteSeq uint64

	wg sync.WaitGroup
}

// NewPrimary creates a primary node.
func NewPrimary(config PrimaryConfig) (*Primary, error) {
	if config.Sync == nil || config.Controller == nil || config.Sensor == nil {
		return nil, fmt.Errorf("%w: primary needs a synchronizer, a controller and a sensor", ErrInvalidConfig)
	}
	if config.ListenAddress == "" {
		config.ListenAddress = fmt.Sprintf(":%d", discovery.DefaultPort)
	}
	if config.StatusInterval <= 0 {
		config.StatusInterval = DefaultStatusInterval
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	p := &Primary{
		config: config,
		clock:  config.Clock,
		logger: config.Logger.With("component", "primary"),
	}
	p.server = transport.NewServer(transport.ServerConfig{
		Address:      config.ListenAddress,
		IdleTimeout:  config.IdleTimeout,
		Capture:      config.Capture,
		Logger:       config.Logger,
		OnConnect:    p.handleConnect,
		OnDisconnect: p.handleDisconnect,
		OnMessage:    p.handleMessage,
		OnError: func(conn *transport.ServerConn, err error) {
			if conn == nil {
				p.logger.Warn("gate link accept failed", "error", err)
			}
		},
	})
	config.Controller.OnEvent(p.forward)
	return p, nil
}

// Start resolves the timing mode, opens the gate link and starts the
// sensor, refresh and status loops.
func (p *Primary) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.state != StateIdle {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.state = StateRunning
	p.mu.Unlock()

	mode := p.config.Sync.ResolveMode(ctx, p.config.Mode, p.config.LockTimeout)

	runCtx, cancel := context.WithCancel(ctx)
	if err := p.server.Start(runCtx); err != nil {
		cancel()
		p.mu.Lock()
		p.state = StateIdle
		p.mu.Unlock()
		return fmt.Errorf("start gate link: %w", err)
	}

	p.mu.Lock()
	p.cancel = cancel
	p.lastGPS = p.config.Sync.GPSStatus()
	p.mu.Unlock()

	p.config.Controller.Publish()
	p.spawn(func() { _ = p.config.Sync.Run(runCtx) })
	p.spawn(func() { _ = p.config.Controller.Run(runCtx) })
	p.spawn(func() { p.sensorLoop(runCtx) })
	p.spawn(func() { p.statusLoop(runCtx) })

	if p.config.Advertiser != nil {
		info := discovery.GateInfo{
			Instance:   p.config.Instance,
			Port:       tcpPort(p.server.Addr()),
			TimingMode: mode.String(),
		}
		if err := p.config.Advertiser.Advertise(runCtx, info); err != nil {
			p.logger.Warn("mDNS advertisement failed, secondary needs an explicit host", "error", err)
		}
	}

	p.logger.Info("primary started", "addr", p.server.Addr().String(), "timing_mode", mode)
	return nil
}

// Stop closes the gate link and waits for every loop to exit.
func (p *Primary) Stop() error {
	p.mu.Lock()
	if p.state != StateRunning {
		p.mu.Unlock()
		return ErrNotStarted
	}
	p.state = StateStopped
	cancel := p.cancel
	p.mu.Unlock()

	if p.config.Advertiser != nil {
		p.config.Advertiser.Stop()
	}
	cancel()
	err := p.server.Stop()
	p.wg.Wait()
	p.config.Controller.SetLinkStatus(LinkDisconnected)
	p.logger.Info("primary stopped")
	return err
}

// State returns the lifecycle state.
func (p *Primary) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Addr returns the gate link listen address, or nil before Start.
func (p *Primary) Addr() net.Addr {
	return p.server.Addr()
}

// Controller returns the race controller.
func (p *Primary) Controller() *race.Controller {
	return p.config.Controller
}

// Connected reports whether a secondary is attached.
func (p *Primary) Connected() bool {
	return p.server.Connected()
}

// PeerStatus is what the primary knows about the attached secondary.
type PeerStatus struct {
	Connected  bool
	TimingMode timing.Mode
	LastSync   time.Time
	Triggers   uint64
}

// Peer returns the secondary's last reported state.
func (p *Primary) Peer() PeerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PeerStatus{
		Connected:  p.server.Connected(),
		TimingMode: p.peerMode,
		LastSync:   p.lastPeer,
		Triggers:   p.remoteSeq,
	}
}

func (p *Primary) spawn(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Primary) sensorLoop(ctx context.Context) {
	events := make(chan model.TriggerEvent, 8)
	done := make(chan error, 1)
	go func() { done <- p.config.Sensor.Run(ctx, events) }()

	for {
		select {
		case evt := <-events:
			p.trigger(evt)
		case err := <-done:
			if err != nil {
				p.logger.Error("start gate sensor stopped", "error", err)
			}
			return
		}
	}
}

func (p *Primary) trigger(evt model.TriggerEvent) {
	state, err := p.config.Controller.HandleTrigger(evt)
	if err != nil {
		return
	}
	p.logger.Debug("trigger applied", "source", evt.Source, "seq", evt.Sequence, "state", state)
}

func (p *Primary) statusLoop(ctx context.Context) {
	ticker := p.clock.NewTicker(p.config.StatusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
		}

		status := p.config.Sync.GPSStatus()
		p.mu.Lock()
		changed := status != p.lastGPS
		p.lastGPS = status
		p.mu.Unlock()
		if changed {
			p.config.Controller.Publish()
			p.broadcast(wire.GPSStatus{Status: status.Status, Satellites: status.Satellites})
		}
	}
}

func (p *Primary) handleConnect(conn *transport.ServerConn) {
	p.config.Controller.SetLinkStatus(LinkConnected)

	syncer := p.config.Sync
	gps := syncer.GPSStatus()
	p.sendTo(conn, wire.TimingMode{TimingMode: syncer.Mode()})
	p.sendTo(conn, wire.GPSStatus{Status: gps.Status, Satellites: gps.Satellites})

	session := p.config.Controller.Session()
	if session.Runner != nil && (session.State == race.StateArmed || session.State == race.StateRunning) {
		p.sendTo(conn, wire.CurrentRunner{RunnerID: session.Runner.ID, Name: session.Runner.Name})
	}

	if syncer.Mode() == timing.ModeWired {
		anchor, err := syncer.SendPulse()
		if err != nil {
			p.logger.Warn("wired sync pulse failed", "error", err)
			return
		}
		p.sendTo(conn, wire.WiredSync{Anchor: model.UnixSeconds(anchor), Role: timing.RoleMaster.String()})
	}
}

func (p *Primary) handleDisconnect(*transport.ServerConn) {
	if !p.server.Connected() {
		p.config.Controller.SetLinkStatus(LinkDisconnected)
	}
}

func (p *Primary) handleMessage(conn *transport.ServerConn, data []byte) {
	env, err := wire.Decode(data)
	if err != nil {
		p.logger.Warn("dropping malformed message", "conn_id", conn.ConnID(), "error", err)
		return
	}

	switch env.Type {
	case wire.TypeGateTrigger:
		gt, err := wire.DecodePayload[wire.GateTrigger](env)
		if err != nil {
			p.logger.Warn("dropping malformed gate trigger", "conn_id", conn.ConnID(), "error", err)
			return
		}
		evt := gt.Event()
		if evt.Source != model.SourceRemote {
			p.logger.Debug("remote trigger carried a local gate id", "gate_id", evt.Source)
			evt.Source = model.SourceRemote
		}
		p.mu.Lock()
		p.remoteSeq = evt.Sequence
		p.mu.Unlock()
		p.trigger(evt)

	case wire.TypeTimeSync:
		ts, err := wire.DecodePayload[wire.TimeSync](env)
		if err != nil {
			p.logger.Warn("dropping malformed time sync", "conn_id", conn.ConnID(), "error", err)
			return
		}
		p.mu.Lock()
		changed := p.peerMode != ts.TimingMode
		p.peerMode = ts.TimingMode
		p.lastPeer = p.clock.Now()
		p.mu.Unlock()
		if changed && ts.TimingMode != p.config.Sync.Mode() {
			p.logger.Warn("secondary timing mode differs", "primary", p.config.Sync.Mode(), "secondary", ts.TimingMode)
		}

	default:
		p.logger.Debug("ignoring message", "type", env.Type)
	}
}

// forward mirrors controller transitions to the secondary.
func (p *Primary) forward(evt race.Event) {
	switch evt.Kind {
	case race.EventArmed:
		p.broadcast(wire.CurrentRunner{RunnerID: evt.Runner.ID, Name: evt.Runner.Name})
	case race.EventReset:
		if evt.Runner != nil {
			p.broadcast(wire.CurrentRunner{RunnerID: evt.Runner.ID, Name: evt.Runner.Name})
		}
	case race.EventStarted:
		p.broadcast(wire.RaceStart{RunnerID: evt.Runner.ID, Timestamp: model.UnixSeconds(evt.Start.Timestamp)})
	case race.EventFinished:
		rec := evt.Record
		p.broadcast(wire.RaceFinish{RunnerID: rec.RunnerID, Name: rec.RunnerName, Duration: rec.Seconds()})
	}
}

func (p *Primary) broadcast(payload any) {
	data, err := wire.Encode(payload, p.config.Sync.Timestamp())
	if err != nil {
		p.logger.Error("encode message", "error", err)
		return
	}
	if err := p.server.Send(data); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			p.logger.Debug("no secondary attached, message not sent", "type", fmt.Sprintf("%T", payload))
			return
		}
		p.logger.Warn("send to secondary failed", "error", err)
	}
}

func (p *Primary) sendTo(conn *transport.ServerConn, payload any) {
	data, err := wire.Encode(payload, p.config.Sync.Timestamp())
	if err != nil {
		p.logger.Error("encode message", "error", err)
		return
	}
	if err := conn.Send(data); err != nil {
		p.logger.Warn("send to secondary failed", "conn_id", conn.ConnID(), "error", err)
	}
}

func tcpPort(addr net.Addr) int {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}
