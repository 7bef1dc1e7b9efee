package race

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/sprintgate/sprintgate-go/pkg/log"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// DefaultRefreshInterval is the live elapsed-time publish period.
const DefaultRefreshInterval = 50 * time.Millisecond

// DefaultSinkTimeout bounds each RecordSink call.
const DefaultSinkTimeout = 5 * time.Second

// RecordSink receives completed records. Failures are logged by the
// controller and never affect the state machine.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec Record) error
}

// Display shows times and short messages.
type Display interface {
	ShowTime(seconds float64)
	ShowMessage(text string)
	Clear()
}

// Status reports the node's time reference. *timing.Synchronizer
// implements it.
type Status interface {
	Mode() timing.Mode
	GPSStatus() timing.GPSStatus
	Timestamp() time.Time
}

// Config configures a Controller.
type Config struct {
	// Status provides the timing mode, GPS status and the current instant
	// used for elapsed time. Defaults to the system clock.
	Status Status

	// Sinks receive each completed record.
	Sinks []RecordSink

	// Displays mirror the race progress.
	Displays []Display

	// RefreshInterval is the live publish period (default 50ms).
	RefreshInterval time.Duration

	// SinkTimeout bounds each sink call (default 5s).
	SinkTimeout time.Duration

	Clock   clockwork.Clock
	Logger  *slog.Logger
	Capture log.Logger
}

// Controller is the race state machine of the primary node.
type Controller struct {
	status      Status
	sinks       []RecordSink
	displays    []Display
	refresh     time.Duration
	sinkTimeout time.Duration
	clock       clockwork.Clock
	logger      *slog.Logger
	capture     log.Logger

	mu         sync.Mutex
	state      State
	runner     *model.Runner
	start      *model.TriggerEvent
	finish     *model.TriggerEvent
	records    []Record
	lastRun    *LastRun
	linkStatus string
	snapSeq    uint64
	view       displayView
	viewSeq    uint64

	listenersMu sync.RWMutex
	listeners   []func(Event)

	pub       *publisher
	dispatchW sync.WaitGroup
}

// systemStatus is the default Status: system clock, no GPS.
type systemStatus struct{ clock clockwork.Clock }

func (s systemStatus) Mode() timing.Mode { return timing.ModeSystem }
func (s systemStatus) GPSStatus() timing.GPSStatus {
	return timing.GPSStatus{Status: timing.GPSStatusUnavailable}
}
func (s systemStatus) Timestamp() time.Time { return s.clock.Now() }

// NewController creates a controller in IDLE.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Status == nil {
		cfg.Status = systemStatus{clock: cfg.Clock}
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = DefaultRefreshInterval
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = DefaultSinkTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	c := &Controller{
		status:      cfg.Status,
		sinks:       cfg.Sinks,
		displays:    cfg.Displays,
		refresh:     cfg.RefreshInterval,
		sinkTimeout: cfg.SinkTimeout,
		clock:       cfg.Clock,
		logger:      cfg.Logger.With("component", "race"),
		capture:     log.OrNoop(cfg.Capture),
		state:       StateIdle,
		linkStatus:  "DISCONNECTED",
	}
	c.pub = newPublisher(c.snapshotLocked(0))
	return c
}

// OnEvent registers a transition listener. Listeners run synchronously,
// outside the state lock, in registration order.
func (c *Controller) OnEvent(fn func(Event)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// AssignRunner arms the controller for runner. Allowed from IDLE and FINISHED.
func (c *Controller) AssignRunner(r model.Runner) error {
	if err := r.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateIdle && c.state != StateFinished {
		state := c.state
		c.mu.Unlock()
		c.logger.Debug("runner assignment discarded", "state", state, "runner", r.Name)
		return fmt.Errorf("%w: assign runner in %s", ErrInvalidTransition, state)
	}
	prev := c.state
	runner := r
	c.runner = &runner
	c.state = StateArmed
	c.start, c.finish = nil, nil
	snap, seq := c.snapshotLocked(0)
	view, viewSeq := c.setViewLocked(displayView{message: "RDY"})
	c.mu.Unlock()

	c.captureState(prev, StateArmed, "runner "+r.Name)
	c.logger.Info("runner armed", "runner_id", r.ID, "runner", r.Name)
	c.pub.publish(snap, seq)
	c.render(view, viewSeq)
	c.emit(Event{Kind: EventArmed, State: StateArmed, Runner: &runner})
	return nil
}

// HandleTrigger applies a trigger event and returns the resulting state.
// Triggers not allowed in the current state are discarded and reported as
// ErrInvalidTransition.
func (c *Controller) HandleTrigger(evt model.TriggerEvent) (State, error) {
	c.mu.Lock()
	switch {
	case c.state == StateArmed && evt.Source == model.SourceLocal:
		start := evt
		c.start = &start
		c.state = StateRunning
		runner := *c.runner
		snap, seq := c.snapshotLocked(0)
		view, viewSeq := c.setViewLocked(displayView{showTime: true})
		c.mu.Unlock()

		c.captureTrigger(evt, true, StateRunning.String())
		c.captureState(StateArmed, StateRunning, "")
		c.logger.Info("race started", "runner", runner.Name, "at", evt.Timestamp, "mode", evt.Mode)
		c.pub.publish(snap, seq)
		c.render(view, viewSeq)
		c.emit(Event{Kind: EventStarted, State: StateRunning, Runner: &runner, Start: &start})
		return StateRunning, nil

	case c.state == StateRunning && evt.Source == model.SourceRemote:
		d := evt.Timestamp.Sub(c.start.Timestamp)
		if d < 0 {
			started := c.start.Timestamp
			c.mu.Unlock()
			c.captureTrigger(evt, false, "NEGATIVE_DURATION")
			c.logger.Warn("finish trigger precedes start, discarded",
				"start", started, "finish", evt.Timestamp, "skew", d)
			return StateRunning, ErrNegativeDuration
		}

		finish := evt
		c.finish = &finish
		c.state = StateFinished
		rec := Record{
			ID:         uuid.New(),
			RunnerID:   c.runner.ID,
			RunnerName: c.runner.Name,
			Start:      *c.start,
			Finish:     finish,
			Duration:   d,
		}
		c.records = append(c.records, rec)
		c.lastRun = &LastRun{Name: rec.RunnerName, Time: rec.Seconds()}
		runner := *c.runner
		snap, seq := c.snapshotLocked(rec.Seconds())
		view, viewSeq := c.setViewLocked(displayView{showTime: true, seconds: rec.Seconds()})
		c.mu.Unlock()

		c.captureTrigger(evt, true, StateFinished.String())
		c.captureState(StateRunning, StateFinished, fmt.Sprintf("%.3fs", rec.Seconds()))
		c.logger.Info("race finished", "runner", rec.RunnerName, "duration", rec.Duration, "record_id", rec.ID)
		c.pub.publish(snap, seq)
		c.render(view, viewSeq)
		c.dispatch(rec)
		c.emit(Event{Kind: EventFinished, State: StateFinished, Runner: &runner, Record: &rec})
		return StateFinished, nil

	default:
		state := c.state
		c.mu.Unlock()
		c.captureTrigger(evt, false, "DISCARDED")
		c.logger.Debug("trigger discarded", "state", state, "source", evt.Source, "seq", evt.Sequence)
		return state, fmt.Errorf("%w: %s trigger in %s", ErrInvalidTransition, evt.Source, state)
	}
}

// Reset abandons the current session. With keepRunner and a runner
// assigned it returns to ARMED, otherwise to IDLE.
func (c *Controller) Reset(keepRunner bool) State {
	c.mu.Lock()
	prev := c.state
	c.start, c.finish = nil, nil
	if keepRunner && c.runner != nil {
		c.state = StateArmed
	} else {
		c.runner = nil
		c.state = StateIdle
	}
	next := c.state
	var runner *model.Runner
	if c.runner != nil {
		r := *c.runner
		runner = &r
	}
	snap, seq := c.snapshotLocked(0)
	reset := displayView{clear: true}
	if next == StateArmed {
		reset.message = "RDY"
	}
	view, viewSeq := c.setViewLocked(reset)
	c.mu.Unlock()

	c.captureState(prev, next, "reset")
	c.logger.Info("race reset", "from", prev, "to", next)
	c.pub.publish(snap, seq)
	c.render(view, viewSeq)
	c.emit(Event{Kind: EventReset, State: next, Runner: runner})
	return next
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Session returns a copy of the current session.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Session{State: c.state}
	if c.runner != nil {
		r := *c.runner
		s.Runner = &r
	}
	if c.start != nil {
		st := *c.start
		s.Start = &st
	}
	if c.finish != nil {
		f := *c.finish
		s.Finish = &f
	}
	return s
}

// Records returns the records completed since startup, oldest first.
func (c *Controller) Records() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.records))
	copy(out, c.records)
	return out
}

// Snapshot returns the latest published snapshot.
func (c *Controller) Snapshot() Snapshot {
	return c.pub.load()
}

// Subscribe returns a channel carrying the latest snapshot, starting with
// the current one, and a cancel function.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	return c.pub.subscribe()
}

// SetLinkStatus records the gate link status shown in snapshots.
func (c *Controller) SetLinkStatus(status string) {
	c.mu.Lock()
	c.linkStatus = status
	c.mu.Unlock()
	c.Publish()
}

// Publish rebuilds and publishes the snapshot, including live elapsed time
// while RUNNING.
func (c *Controller) Publish() {
	c.mu.Lock()
	elapsed := 0.0
	switch {
	case c.state == StateRunning && c.start != nil:
		elapsed = c.elapsedLocked()
	case c.state == StateFinished && c.lastRun != nil:
		elapsed = c.lastRun.Time
	}
	snap, seq := c.snapshotLocked(elapsed)
	c.mu.Unlock()
	c.pub.publish(snap, seq)
}

// Run republishes the snapshot every refresh interval and pushes the live
// elapsed time to displays while RUNNING. It returns when ctx is done.
func (c *Controller) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.refresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.dispatchW.Wait()
			return nil
		case <-ticker.Chan():
			c.Publish()
			c.mu.Lock()
			if c.state != StateRunning || c.start == nil {
				c.mu.Unlock()
				continue
			}
			view, seq := c.setViewLocked(displayView{showTime: true, seconds: c.elapsedLocked()})
			c.mu.Unlock()
			c.render(view, seq)
		}
	}
}

// Flush waits for in-flight record dispatches.
func (c *Controller) Flush() {
	c.dispatchW.Wait()
}

func (c *Controller) elapsedLocked() float64 {
	d := c.status.Timestamp().Sub(c.start.Timestamp)
	if d < 0 {
		d = 0
	}
	return model.Seconds(d)
}

// snapshotLocked builds the snapshot and its publish sequence. The
// publisher drops snapshots older than the last one it published.
func (c *Controller) snapshotLocked(elapsed float64) (Snapshot, uint64) {
	c.snapSeq++
	s := Snapshot{
		ElapsedTime: elapsed,
		TimingMode:  c.status.Mode().String(),
		GPSStatus:   c.status.GPSStatus().Status,
		LinkStatus:  c.linkStatus,
		State:       c.state.String(),
	}
	if c.runner != nil {
		s.CurrentRunner = c.runner.Name
	}
	if c.lastRun != nil {
		lr := *c.lastRun
		s.LastRun = &lr
	}
	return s, c.snapSeq
}

// displayView is what every display should currently show.
type displayView struct {
	clear    bool
	message  string
	showTime bool
	seconds  float64
}

func (v displayView) apply(d Display) {
	if v.clear {
		d.Clear()
	}
	if v.message != "" {
		d.ShowMessage(v.message)
	}
	if v.showTime {
		d.ShowTime(v.seconds)
	}
}

func (c *Controller) setViewLocked(v displayView) (displayView, uint64) {
	c.viewSeq++
	c.view = v
	return v, c.viewSeq
}

// render applies v to the displays. When a newer view was set meanwhile,
// the newest one is applied after it, so displays always end on the latest
// view whatever the interleaving of callers.
func (c *Controller) render(v displayView, seq uint64) {
	for {
		c.eachDisplay(v.apply)
		c.mu.Lock()
		if c.viewSeq == seq {
			c.mu.Unlock()
			return
		}
		v, seq = c.view, c.viewSeq
		c.mu.Unlock()
	}
}

// dispatch pushes rec to every sink on its own goroutine.
func (c *Controller) dispatch(rec Record) {
	if len(c.sinks) == 0 {
		return
	}
	c.dispatchW.Add(1)
	go func() {
		defer c.dispatchW.Done()
		for _, sink := range c.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), c.sinkTimeout)
			if err := sink.SaveRecord(ctx, rec); err != nil {
				c.logger.Error("record sink failed", "record_id", rec.ID, "sink", fmt.Sprintf("%T", sink), "error", err)
			}
			cancel()
		}
	}()
}

func (c *Controller) eachDisplay(fn func(Display)) {
	for _, d := range c.displays {
		fn(d)
	}
}

func (c *Controller) emit(evt Event) {
	c.listenersMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(evt)
	}
}

func (c *Controller) captureTrigger(evt model.TriggerEvent, accepted bool, outcome string) {
	c.capture.Log(log.Event{
		Timestamp: c.clock.Now(),
		Layer:     log.LayerRace,
		Category:  log.CategoryTrigger,
		LocalRole: log.RolePrimary,
		Trigger: &log.TriggerEvent{
			Source:   evt.Source.String(),
			Sequence: evt.Sequence,
			At:       evt.Timestamp,
			Mode:     evt.Mode.String(),
			Accepted: accepted,
			Outcome:  outcome,
		},
	})
}

func (c *Controller) captureState(from, to State, reason string) {
	c.capture.Log(log.Event{
		Timestamp: c.clock.Now(),
		Layer:     log.LayerRace,
		Category:  log.CategoryState,
		LocalRole: log.RolePrimary,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityRace,
			OldState: from.String(),
			NewState: to.String(),
			Reason:   reason,
		},
	})
}
