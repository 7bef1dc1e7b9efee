package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintgate/sprintgate-go/pkg/connection"
	"github.com/sprintgate/sprintgate-go/pkg/display"
	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/sensor"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
	"github.com/sprintgate/sprintgate-go/pkg/transport"
	"github.com/sprintgate/sprintgate-go/pkg/wire"
)

const (
	waitTimeout = 5 * time.Second
	pollEvery   = 10 * time.Millisecond
)

var ada = model.Runner{ID: 1, Name: "Ada"}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type memorySink struct {
	mu      sync.Mutex
	records []race.Record
}

func (m *memorySink) SaveRecord(_ context.Context, rec race.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

func (m *memorySink) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type primaryRig struct {
	node  *Primary
	start *gpio.SimLine
	sink  *memorySink
}

func startPrimary(t *testing.T, addr string) primaryRig {
	t.Helper()
	logger := quietLogger()
	syncer := timing.NewSynchronizer(timing.Config{Role: timing.RoleMaster, Mode: timing.ModeSystem, Logger: logger})
	line := gpio.NewSimLine("start", nil)
	sink := &memorySink{}
	ctrl := race.NewController(race.Config{
		Status: syncer,
		Sinks:  []race.RecordSink{sink},
		Logger: logger,
	})
	p, err := NewPrimary(PrimaryConfig{
		ListenAddress: addr,
		Mode:          timing.ModeSystem,
		Sync:          syncer,
		Controller:    ctrl,
		Sensor: sensor.New(sensor.Config{
			Line:     line,
			Stamper:  syncer,
			Source:   model.SourceLocal,
			Debounce: 10 * time.Millisecond,
			Logger:   logger,
		}),
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop() })
	return primaryRig{node: p, start: line, sink: sink}
}

type secondaryRig struct {
	node   *Secondary
	finish *gpio.SimLine
	screen *display.Recorder
}

func startSecondary(t *testing.T, cfg SecondaryConfig) secondaryRig {
	t.Helper()
	logger := quietLogger()
	syncer := timing.NewSynchronizer(timing.Config{Role: timing.RoleSlave, Mode: timing.ModeSystem, Logger: logger})
	line := gpio.NewSimLine("finish", nil)
	screen := display.NewRecorder()

	cfg.Mode = timing.ModeSystem
	cfg.Sync = syncer
	cfg.Sensor = sensor.New(sensor.Config{
		Line:     line,
		Stamper:  syncer,
		Source:   model.SourceRemote,
		Debounce: 10 * time.Millisecond,
		Logger:   logger,
	})
	cfg.Display = screen
	if cfg.Backoff == 0 {
		cfg.Backoff = 20 * time.Millisecond
	}
	cfg.ConnectTimeout = time.Second
	cfg.Logger = logger

	s, err := NewSecondary(cfg)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() { _ = s.Stop() })
	return secondaryRig{node: s, finish: line, screen: screen}
}

// unusedAddr returns a loopback address nothing is listening on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func waitLinked(t *testing.T, p *Primary, s *Secondary) {
	t.Helper()
	require.Eventually(t, func() bool {
		return p.Connected() && s.Status().Link == connection.StateConnected
	}, waitTimeout, pollEvery)
}

func waitState(t *testing.T, c *race.Controller, want race.State) {
	t.Helper()
	require.Eventually(t, func() bool { return c.State() == want }, waitTimeout, pollEvery)
}

// receiveType reads frames until one of type want arrives.
func receiveType(t *testing.T, conn *transport.ClientConn, want wire.MessageType) *wire.Envelope {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		data, err := conn.Receive(time.Second)
		require.NoError(t, err)
		env, err := wire.Decode(data)
		require.NoError(t, err)
		if env.Type == want {
			return env
		}
	}
	t.Fatalf("no %s message received", want)
	return nil
}

func TestNewNodesRequireComponents(t *testing.T) {
	_, err := NewPrimary(PrimaryConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewSecondary(SecondaryConfig{})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	syncer := timing.NewSynchronizer(timing.Config{Role: timing.RoleSlave})
	sens := sensor.New(sensor.Config{Line: gpio.NewSimLine("finish", nil), Stamper: syncer, Source: model.SourceRemote})
	_, err = NewSecondary(SecondaryConfig{Sync: syncer, Sensor: sens})
	assert.ErrorIs(t, err, ErrInvalidConfig, "address or resolver is required")
}

func TestPrimaryLifecycle(t *testing.T) {
	rig := startPrimary(t, "127.0.0.1:0")
	assert.Equal(t, StateRunning, rig.node.State())
	assert.ErrorIs(t, rig.node.Start(context.Background()), ErrAlreadyStarted)

	require.NoError(t, rig.node.Stop())
	assert.Equal(t, StateStopped, rig.node.State())
	assert.ErrorIs(t, rig.node.Stop(), ErrNotStarted)
}

func TestRaceAcrossLoopback(t *testing.T) {
	p := startPrimary(t, "127.0.0.1:0")
	s := startSecondary(t, SecondaryConfig{Address: p.node.Addr().String()})
	waitLinked(t, p.node, s.node)

	ctrl := p.node.Controller()
	assert.Equal(t, LinkConnected, ctrl.Snapshot().LinkStatus)

	require.NoError(t, ctrl.AssignRunner(ada))
	require.Eventually(t, func() bool { return s.node.Status().Runner == "Ada" }, waitTimeout, pollEvery)

	t0 := time.Now()
	p.start.FireAt(t0)
	waitState(t, ctrl, race.StateRunning)

	s.finish.FireAt(t0.Add(7400 * time.Millisecond))
	waitState(t, ctrl, race.StateFinished)

	records := ctrl.Records()
	require.Len(t, records, 1)
	assert.Equal(t, int64(1), records[0].RunnerID)
	assert.Equal(t, model.SourceRemote, records[0].Finish.Source)
	assert.InDelta(t, 7.4, records[0].Seconds(), 1e-5)

	require.Eventually(t, func() bool { return s.node.Status().LastFinish != nil }, waitTimeout, pollEvery)
	status := s.node.Status()
	assert.InDelta(t, 7.4, status.LastFinish.Duration, 1e-5)
	assert.Equal(t, "Ada", status.LastFinish.Name)
	assert.Equal(t, uint64(1), status.Sent)
	assert.Zero(t, status.Dropped)

	require.Eventually(t, func() bool { return p.sink.count() == 1 }, waitTimeout, pollEvery)

	snap := ctrl.Snapshot()
	require.NotNil(t, snap.LastRun)
	assert.Equal(t, "Ada", snap.LastRun.Name)
	assert.InDelta(t, 7.4, snap.LastRun.Time, 1e-5)
}

func TestSecondaryDropsTriggerWhileLinkDown(t *testing.T) {
	s := startSecondary(t, SecondaryConfig{Address: unusedAddr(t)})

	require.Eventually(t, func() bool {
		return s.node.Status().Display == display.MessageError || s.node.Status().Display == display.MessageConnecting
	}, waitTimeout, pollEvery)

	s.finish.Fire()
	require.Eventually(t, func() bool { return s.node.Status().Dropped == 1 }, waitTimeout, pollEvery)
	assert.Zero(t, s.node.Status().Sent)
	assert.NotEqual(t, connection.StateConnected, s.node.Status().Link)
}

func TestSecondaryUsesResolver(t *testing.T) {
	p := startPrimary(t, "127.0.0.1:0")

	var calls atomic.Int32
	s := startSecondary(t, SecondaryConfig{
		Resolve: func(context.Context) (string, error) {
			if calls.Add(1) == 1 {
				return "", errors.New("no primary advertised yet")
			}
			return p.node.Addr().String(), nil
		},
	})
	waitLinked(t, p.node, s.node)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	require.Eventually(t, func() bool {
		return s.node.Status().Display == display.MessageReady
	}, waitTimeout, pollEvery)
}

func TestSecondaryReconnectsAfterPrimaryRestart(t *testing.T) {
	first := startPrimary(t, "127.0.0.1:0")
	addr := first.node.Addr().String()
	s := startSecondary(t, SecondaryConfig{Address: addr})
	waitLinked(t, first.node, s.node)

	require.NoError(t, first.node.Stop())
	require.Eventually(t, func() bool {
		return s.node.Status().Link != connection.StateConnected
	}, waitTimeout, pollEvery)

	second := startPrimary(t, addr)
	waitLinked(t, second.node, s.node)
	assert.Equal(t, LinkConnected, second.node.Controller().Snapshot().LinkStatus)
}

func TestPrimaryAnnouncesAndForwards(t *testing.T) {
	p := startPrimary(t, "127.0.0.1:0")

	conn, err := transport.Dial(context.Background(), p.node.Addr().String(), transport.DialConfig{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	env := receiveType(t, conn, wire.TypeTimingMode)
	tm, err := wire.DecodePayload[wire.TimingMode](env)
	require.NoError(t, err)
	assert.Equal(t, timing.ModeSystem, tm.TimingMode)

	env = receiveType(t, conn, wire.TypeGPSStatus)
	gs, err := wire.DecodePayload[wire.GPSStatus](env)
	require.NoError(t, err)
	assert.Equal(t, timing.GPSStatusUnavailable, gs.Status)

	ctrl := p.node.Controller()
	require.NoError(t, ctrl.AssignRunner(ada))
	env = receiveType(t, conn, wire.TypeCurrentRunner)
	cr, err := wire.DecodePayload[wire.CurrentRunner](env)
	require.NoError(t, err)
	assert.Equal(t, wire.CurrentRunner{RunnerID: 1, Name: "Ada"}, cr)

	t0 := time.Now()
	p.start.FireAt(t0)
	env = receiveType(t, conn, wire.TypeRaceStart)
	rs, err := wire.DecodePayload[wire.RaceStart](env)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rs.RunnerID)
	assert.InDelta(t, model.UnixSeconds(t0), rs.Timestamp, 1e-6)

	// Malformed frames are dropped and the link keeps reading.
	require.NoError(t, conn.Send([]byte("{not json")))
	require.NoError(t, conn.Send([]byte(`{"type":"BOGUS","payload":{},"timestamp":1}`)))

	finish := model.TriggerEvent{
		Source:    model.SourceRemote,
		Timestamp: t0.Add(2 * time.Second),
		Mode:      timing.ModeSystem,
		Sequence:  1,
	}
	data, err := wire.Encode(wire.NewGateTrigger(finish), time.Now())
	require.NoError(t, err)
	require.NoError(t, conn.Send(data))

	env = receiveType(t, conn, wire.TypeRaceFinish)
	rf, err := wire.DecodePayload[wire.RaceFinish](env)
	require.NoError(t, err)
	assert.Equal(t, "Ada", rf.Name)
	assert.InDelta(t, 2.0, rf.Duration, 1e-5)
	assert.Equal(t, race.StateFinished, ctrl.State())
	assert.Equal(t, uint64(1), p.node.Peer().Triggers)
}

func TestPrimaryIgnoresRemoteTriggerWhileIdle(t *testing.T) {
	p := startPrimary(t, "127.0.0.1:0")
	s := startSecondary(t, SecondaryConfig{Address: p.node.Addr().String()})
	waitLinked(t, p.node, s.node)

	s.finish.Fire()
	require.Eventually(t, func() bool { return s.node.Status().Sent == 1 }, waitTimeout, pollEvery)
	require.Eventually(t, func() bool { return p.node.Peer().Triggers == 1 }, waitTimeout, pollEvery)

	ctrl := p.node.Controller()
	assert.Equal(t, race.StateIdle, ctrl.State())
	assert.Empty(t, ctrl.Records())
}

func TestPrimaryTracksSecondaryTimeSync(t *testing.T) {
	p := startPrimary(t, "127.0.0.1:0")
	s := startSecondary(t, SecondaryConfig{Address: p.node.Addr().String()})
	waitLinked(t, p.node, s.node)

	require.Eventually(t, func() bool { return !p.node.Peer().LastSync.IsZero() }, waitTimeout, pollEvery)
	assert.Equal(t, timing.ModeSystem, p.node.Peer().TimingMode)
}
