package timing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/sprintgate/sprintgate-go/pkg/gpio"
)

// Default configuration values.
const (
	DefaultMinSatellites = 4
	DefaultPollInterval  = time.Second
	DefaultQueryTimeout  = 5 * time.Second
	DefaultLockTimeout   = 30 * time.Second
	DefaultPulseWidth    = time.Millisecond
	DefaultAnchorWait    = time.Second
)

var (
	// ErrWrongRole is returned for operations reserved to the other role.
	ErrWrongRole = errors.New("operation not valid for this role")

	// ErrNoPulse is returned when an anchor is announced and no pulse
	// newer than the last bound one arrives in time.
	ErrNoPulse = errors.New("no sync pulse received")
)

// Role is the node's side of the wired sync pulse.
type Role uint8

const (
	// RoleMaster drives the pulse (primary node).
	RoleMaster Role = iota
	// RoleSlave receives the pulse (secondary node).
	RoleSlave
)

func (r Role) String() string {
	if r == RoleMaster {
		return "master"
	}
	return "slave"
}

// GPS status values reported in snapshots and GPS_STATUS messages.
const (
	GPSStatusUnknown     = "UNKNOWN"
	GPSStatusUnavailable = "UNAVAILABLE"
	GPSStatusSearching   = "SEARCHING"
	GPSStatusLocked      = "LOCKED"
)

// GPSStatus is the latest view of the GPS subsystem.
type GPSStatus struct {
	Status     string
	Satellites int
}

// SyncState is the synchronizer's owned state. Readers receive copies.
type SyncState struct {
	ResolvedMode      Mode
	LockAcquired      bool
	LastSyncTimestamp time.Time
}

// Config configures a Synchronizer.
type Config struct {
	// Role selects pulse direction.
	Role Role

	// Mode is the configured mode, re-applied by Reset.
	Mode Mode

	// GPS is the GPS subsystem. Nil disables GPS.
	GPS GPSSource

	// MinSatellites is the satellite count required for lock.
	MinSatellites int

	// PollInterval is the retry interval for lock acquisition and the
	// refresh interval for GPS status in Run.
	PollInterval time.Duration

	// QueryTimeout bounds each individual GPS query.
	QueryTimeout time.Duration

	// LockTimeout bounds GPS lock acquisition during resolution.
	LockTimeout time.Duration

	// PulseOut is the master's pulse output. Nil disables WIRED on a master.
	PulseOut gpio.OutputLine

	// PulseIn is the slave's pulse input. Nil disables WIRED on a slave.
	PulseIn gpio.EdgeLine

	// PulseWidth is the pulse high time.
	PulseWidth time.Duration

	// AnchorWait is how long a slave waits for the pulse matching an
	// announced anchor when the announcement arrives first.
	AnchorWait time.Duration

	// Clock is the local clock.
	Clock clockwork.Clock

	// Logger is the operational logger.
	Logger *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MinSatellites <= 0 {
		c.MinSatellites = DefaultMinSatellites
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.QueryTimeout <= 0 {
		c.QueryTimeout = DefaultQueryTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.PulseWidth <= 0 {
		c.PulseWidth = DefaultPulseWidth
	}
	if c.AnchorWait <= 0 {
		c.AnchorWait = DefaultAnchorWait
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Synchronizer owns the time reference of one node: it resolves the mode,
// holds the selected Provider and runs the wired pulse exchange.
type Synchronizer struct {
	cfg    Config
	clock  clockwork.Clock
	logger *slog.Logger

	system *SystemProvider
	gps    *GPSProvider
	wired  *WiredProvider

	mu        sync.RWMutex
	state     SyncState
	provider  Provider
	gpsStatus GPSStatus
	receipt   time.Time
	pulsed    chan struct{}
	bound     time.Time
	anchor    time.Time
	handlers  []func(time.Time)

	listenOnce  sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

// NewSynchronizer creates a synchronizer. Until ResolveMode runs it serves
// the system clock.
func NewSynchronizer(cfg Config) *Synchronizer {
	cfg.applyDefaults()
	s := &Synchronizer{
		cfg:    cfg,
		clock:  cfg.Clock,
		logger: cfg.Logger.With("component", "timing", "role", cfg.Role.String()),
		system: NewSystemProvider(cfg.Clock),
		gps:    NewGPSProvider(cfg.Clock, cfg.GPS, cfg.MinSatellites),
		wired:  NewWiredProvider(cfg.Clock, wiredReady(cfg)),
		pulsed: make(chan struct{}),
	}
	s.provider = s.system
	s.state.ResolvedMode = ModeSystem
	s.gpsStatus.Status = GPSStatusUnknown
	if cfg.GPS == nil {
		s.gpsStatus.Status = GPSStatusUnavailable
	}
	return s
}

func wiredReady(cfg Config) bool {
	if cfg.Role == RoleMaster {
		return cfg.PulseOut != nil
	}
	return cfg.PulseIn != nil
}

// ResolveMode selects the time reference. GPS and WIRED are attempted alone
// and fall back to SYSTEM. AUTO tries GPS lock within timeout, then WIRED if
// the pulse line is available, then SYSTEM. A non-positive timeout uses the
// configured lock timeout.
func (s *Synchronizer) ResolveMode(ctx context.Context, configured Mode, timeout time.Duration) Mode {
	if timeout <= 0 {
		timeout = s.cfg.LockTimeout
	}

	var (
		resolved Mode
		locked   bool
	)
	switch configured {
	case ModeGPS:
		locked = s.AcquireGPSLock(ctx, timeout)
		resolved = ModeSystem
		if locked {
			resolved = ModeGPS
		}
	case ModeWired:
		resolved = ModeSystem
		if s.wired.Lock(ctx) {
			resolved = ModeWired
		}
	case ModeAuto:
		locked = s.AcquireGPSLock(ctx, timeout)
		switch {
		case locked:
			resolved = ModeGPS
		case s.wired.Lock(ctx):
			resolved = ModeWired
		default:
			resolved = ModeSystem
		}
	default:
		resolved = ModeSystem
	}

	if resolved == ModeGPS {
		if err := s.refreshOffset(ctx); err != nil {
			s.logger.Warn("GPS reference offset unavailable, using system clock until next refresh", "error", err)
		}
	}

	s.mu.Lock()
	s.state.ResolvedMode = resolved
	s.state.LockAcquired = locked
	s.provider = s.providerFor(resolved)
	s.mu.Unlock()

	if configured != ModeAuto && configured != resolved {
		s.logger.Warn("configured timing source failed, falling back",
			"configured", configured, "resolved", resolved,
			"error", ErrSourceUnavailable)
	} else {
		s.logger.Info("timing mode resolved", "configured", configured, "resolved", resolved)
	}
	return resolved
}

func (s *Synchronizer) providerFor(m Mode) Provider {
	switch m {
	case ModeGPS:
		return s.gps
	case ModeWired:
		return s.wired
	default:
		return s.system
	}
}

// AcquireGPSLock polls the GPS subsystem until the satellite count reaches
// the configured minimum or timeout elapses. Poll failures count as not yet
// locked and are retried every poll interval.
func (s *Synchronizer) AcquireGPSLock(ctx context.Context, timeout time.Duration) bool {
	if s.cfg.GPS == nil {
		return false
	}

	if !s.query(ctx, s.cfg.GPS.Available) {
		s.setGPSStatus(GPSStatusUnavailable, 0)
		s.logger.Info("GPS subsystem not available", "error", ErrSourceUnavailable)
		return false
	}

	deadline := s.clock.Now().Add(timeout)
	s.logger.Info("waiting for GPS lock", "timeout", timeout, "min_satellites", s.cfg.MinSatellites)

	for {
		qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
		n, err := s.cfg.GPS.Satellites(qctx)
		cancel()

		switch {
		case err != nil:
			s.logger.Debug("GPS poll failed", "error", err)
			s.setGPSStatus(GPSStatusSearching, 0)
		case n >= s.cfg.MinSatellites:
			s.setGPSStatus(GPSStatusLocked, n)
			s.logger.Info("GPS lock acquired", "satellites", n)
			return true
		default:
			s.setGPSStatus(GPSStatusSearching, n)
		}

		if !s.clock.Now().Add(s.cfg.PollInterval).Before(deadline) {
			s.logger.Warn("GPS lock not acquired", "error", ErrLockTimeout)
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-s.clock.After(s.cfg.PollInterval):
		}
	}
}

func (s *Synchronizer) query(ctx context.Context, fn func(context.Context) bool) bool {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return fn(qctx)
}

func (s *Synchronizer) refreshOffset(ctx context.Context) error {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()
	return s.gps.Refresh(qctx)
}

// Reset drops any wired anchor and re-resolves the configured mode.
func (s *Synchronizer) Reset(ctx context.Context) Mode {
	s.wired.Unbind()
	s.mu.Lock()
	s.receipt, s.bound, s.anchor = time.Time{}, time.Time{}, time.Time{}
	s.mu.Unlock()
	return s.ResolveMode(ctx, s.cfg.Mode, s.cfg.LockTimeout)
}

// Provider returns the selected provider.
func (s *Synchronizer) Provider() Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.provider
}

// Mode returns the resolved mode.
func (s *Synchronizer) Mode() Mode {
	return s.Provider().Mode()
}

// Timestamp returns the current instant from the selected provider.
func (s *Synchronizer) Timestamp() time.Time {
	return s.Provider().Timestamp()
}

// At maps a local clock reading through the selected provider.
func (s *Synchronizer) At(local time.Time) time.Time {
	return s.Provider().At(local)
}

// Lock reports whether the selected reference is usable.
func (s *Synchronizer) Lock(ctx context.Context) bool {
	return s.Provider().Lock(ctx)
}

// SendPulse drives the sync pulse and anchors the shared epoch at the send
// instant. Master only.
func (s *Synchronizer) SendPulse() (time.Time, error) {
	if s.cfg.Role != RoleMaster {
		return time.Time{}, ErrWrongRole
	}
	if s.cfg.PulseOut == nil {
		return time.Time{}, fmt.Errorf("%w: no pulse output line", ErrSourceUnavailable)
	}
	sent, err := gpio.Pulse(s.cfg.PulseOut, s.cfg.PulseWidth, s.clock)
	if err != nil {
		return time.Time{}, fmt.Errorf("send pulse: %w", err)
	}
	s.wired.Bind(sent, sent)

	s.mu.Lock()
	s.state.LastSyncTimestamp = sent
	s.mu.Unlock()

	s.logger.Debug("sync pulse sent", "at", sent)
	return sent, nil
}

// OnPulseReceived registers a handler for received sync pulses. Handlers run
// on the listener goroutine with the instant captured in the interrupt path.
// Slave only; on a master it is a no-op.
func (s *Synchronizer) OnPulseReceived(fn func(time.Time)) {
	if s.cfg.Role != RoleSlave {
		return
	}
	s.mu.Lock()
	s.handlers = append(s.handlers, fn)
	s.mu.Unlock()
}

// AnnounceAnchor binds the master's anchor to the pulse it was sent with.
// Each anchor takes a pulse received after the previously bound one; when
// the announcement overtakes its pulse it waits up to AnchorWait for it.
// Re-announcing the bound anchor is a no-op.
func (s *Synchronizer) AnnounceAnchor(masterAnchor time.Time) error {
	if s.cfg.Role != RoleSlave {
		return ErrWrongRole
	}
	if s.cfg.PulseIn == nil {
		return ErrNoPulse
	}

	var deadline <-chan time.Time
	for {
		s.mu.Lock()
		if !s.anchor.IsZero() && s.anchor.Equal(masterAnchor) {
			s.mu.Unlock()
			return nil
		}
		receipt, pulsed := s.receipt, s.pulsed
		if !receipt.IsZero() && receipt.After(s.bound) {
			s.bound, s.anchor = receipt, masterAnchor
			s.mu.Unlock()
			s.wired.Bind(receipt, masterAnchor)
			s.logger.Debug("wired anchor bound", "receipt", receipt, "anchor", masterAnchor)
			return nil
		}
		s.mu.Unlock()

		if deadline == nil {
			deadline = s.clock.After(s.cfg.AnchorWait)
		}
		select {
		case <-pulsed:
		case <-deadline:
			return ErrNoPulse
		}
	}
}

// Run services the synchronizer until ctx is done: on a slave it consumes
// sync pulse edges, and when GPS is configured it refreshes GPS status and
// the reference offset every poll interval.
func (s *Synchronizer) Run(ctx context.Context) error {
	if s.cfg.Role == RoleSlave && s.cfg.PulseIn != nil {
		s.listenOnce.Do(func() { go s.listen(ctx) })
	}
	if s.cfg.GPS == nil {
		<-ctx.Done()
		return nil
	}

	ticker := s.clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
			s.poll(ctx)
		}
	}
}

func (s *Synchronizer) poll(ctx context.Context) {
	qctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	n, err := s.cfg.GPS.Satellites(qctx)
	cancel()
	switch {
	case err != nil:
		s.setGPSStatus(GPSStatusSearching, 0)
	case n >= s.cfg.MinSatellites:
		s.setGPSStatus(GPSStatusLocked, n)
	default:
		s.setGPSStatus(GPSStatusSearching, n)
	}

	if s.Mode() != ModeGPS {
		return
	}
	if err := s.refreshOffset(ctx); err != nil {
		s.logger.Debug("GPS reference offset refresh failed", "error", err)
	}
}

func (s *Synchronizer) listen(ctx context.Context) {
	edges := s.cfg.PulseIn.Edges()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-edges:
			if !ok {
				return
			}
			s.pulseReceived(e.Time)
		}
	}
}

func (s *Synchronizer) pulseReceived(at time.Time) {
	s.mu.Lock()
	s.receipt = at
	s.state.LastSyncTimestamp = at
	close(s.pulsed)
	s.pulsed = make(chan struct{})
	handlers := slices.Clone(s.handlers)
	s.mu.Unlock()

	s.logger.Debug("sync pulse received", "at", at)
	for _, h := range handlers {
		h(at)
	}
}

func (s *Synchronizer) setGPSStatus(status string, satellites int) {
	s.mu.Lock()
	s.gpsStatus = GPSStatus{Status: status, Satellites: satellites}
	s.mu.Unlock()
}

// GPSStatus returns the latest GPS status.
func (s *Synchronizer) GPSStatus() GPSStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gpsStatus
}

// State returns a copy of the sync state.
func (s *Synchronizer) State() SyncState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Precision returns the nominal precision of the resolved mode in seconds.
func (s *Synchronizer) Precision() float64 {
	return s.Mode().Precision()
}

// Release closes the pulse lines. Only the first call has effect.
func (s *Synchronizer) Release() error {
	s.releaseOnce.Do(func() {
		var errs []error
		if s.cfg.PulseOut != nil {
			errs = append(errs, s.cfg.PulseOut.Close())
		}
		if s.cfg.PulseIn != nil {
			errs = append(errs, s.cfg.PulseIn.Close())
		}
		s.releaseErr = errors.Join(errs...)
	})
	return s.releaseErr
}
