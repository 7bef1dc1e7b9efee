package timing

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Provider produces timestamps from one time reference.
type Provider interface {
	// Mode returns the reference this provider reads.
	Mode() Mode

	// Timestamp returns the current instant in the provider's time base.
	Timestamp() time.Time

	// At maps a local clock reading (for example, an edge stamped in the
	// interrupt path) into the provider's time base.
	At(local time.Time) time.Time

	// Lock reports whether the reference is currently usable.
	Lock(ctx context.Context) bool
}

// SystemProvider reads the local clock directly.
type SystemProvider struct {
	clock clockwork.Clock
}

// NewSystemProvider creates a provider backed by clock.
func NewSystemProvider(clock clockwork.Clock) *SystemProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SystemProvider{clock: clock}
}

func (p *SystemProvider) Mode() Mode                    { return ModeSystem }
func (p *SystemProvider) Timestamp() time.Time          { return p.clock.Now() }
func (p *SystemProvider) At(local time.Time) time.Time  { return local }
func (p *SystemProvider) Lock(ctx context.Context) bool { return true }

// offsetReadTimeout bounds the offset read a timestamp makes when no good
// offset is cached.
const offsetReadTimeout = 250 * time.Millisecond

// GPSProvider applies the satellite-disciplined reference offset to the local
// clock. The offset is refreshed out of band by Refresh. Once a refresh fails
// each timestamp re-reads the offset itself, and a call whose read fails falls
// back to the plain system clock.
type GPSProvider struct {
	clock         clockwork.Clock
	source        GPSSource
	minSatellites int

	mu     sync.RWMutex
	offset time.Duration
	valid  bool
}

// NewGPSProvider creates a provider reading source.
func NewGPSProvider(clock clockwork.Clock, source GPSSource, minSatellites int) *GPSProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &GPSProvider{clock: clock, source: source, minSatellites: minSatellites}
}

func (p *GPSProvider) Mode() Mode { return ModeGPS }

func (p *GPSProvider) Timestamp() time.Time {
	return p.At(p.clock.Now())
}

func (p *GPSProvider) At(local time.Time) time.Time {
	off, ok := p.Offset()
	if !ok {
		off, ok = p.reread()
	}
	if !ok {
		return local
	}
	return local.Add(off)
}

func (p *GPSProvider) reread() (time.Duration, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), offsetReadTimeout)
	defer cancel()
	if err := p.Refresh(ctx); err != nil {
		return 0, false
	}
	return p.Offset()
}

// Lock reports whether enough satellites are visible right now.
func (p *GPSProvider) Lock(ctx context.Context) bool {
	if p.source == nil {
		return false
	}
	n, err := p.source.Satellites(ctx)
	return err == nil && n >= p.minSatellites
}

// Refresh re-reads the reference offset. A failure drops the cached offset.
func (p *GPSProvider) Refresh(ctx context.Context) error {
	if p.source == nil {
		p.setOffset(0, false)
		return ErrSourceUnavailable
	}
	off, err := p.source.ReferenceOffset(ctx)
	if err != nil {
		p.setOffset(0, false)
		return err
	}
	p.setOffset(off, true)
	return nil
}

// Offset returns the cached offset and whether it is in use.
func (p *GPSProvider) Offset() (time.Duration, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.offset, p.valid
}

func (p *GPSProvider) setOffset(off time.Duration, valid bool) {
	p.mu.Lock()
	p.offset = off
	p.valid = valid
	p.mu.Unlock()
}

// WiredProvider maps local readings onto the epoch shared by both nodes at
// the wired sync pulse. Until an anchor is bound it returns local readings.
type WiredProvider struct {
	clock clockwork.Clock
	ready bool

	mu       sync.RWMutex
	anchored bool
	local    time.Time
	shared   time.Time
}

// NewWiredProvider creates a provider. ready reports whether the pulse line
// is open.
func NewWiredProvider(clock clockwork.Clock, ready bool) *WiredProvider {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &WiredProvider{clock: clock, ready: ready}
}

func (p *WiredProvider) Mode() Mode { return ModeWired }

func (p *WiredProvider) Timestamp() time.Time {
	return p.At(p.clock.Now())
}

func (p *WiredProvider) At(local time.Time) time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.anchored {
		return local
	}
	return p.shared.Add(local.Sub(p.local))
}

func (p *WiredProvider) Lock(ctx context.Context) bool { return p.ready }

// Bind sets the anchor: the local reading local corresponds to shared in the
// common time base. The master binds its send instant to itself.
func (p *WiredProvider) Bind(local, shared time.Time) {
	p.mu.Lock()
	p.anchored = true
	p.local = local
	p.shared = shared
	p.mu.Unlock()
}

// Anchor returns the bound shared anchor, if any.
func (p *WiredProvider) Anchor() (time.Time, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shared, p.anchored
}

// Unbind drops the anchor.
func (p *WiredProvider) Unbind() {
	p.mu.Lock()
	p.anchored = false
	p.mu.Unlock()
}

var (
	_ Provider = (*SystemProvider)(nil)
	_ Provider = (*GPSProvider)(nil)
	_ Provider = (*WiredProvider)(nil)
)
