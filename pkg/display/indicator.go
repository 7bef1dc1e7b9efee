package display

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultTriggerHold is how long TRIG stays visible.
const DefaultTriggerHold = time.Second

// Indicator shows the secondary node's link state and briefly flashes TRIG
// after each trigger before returning to the link state.
type Indicator struct {
	display Display
	clock   clockwork.Clock
	hold    time.Duration

	mu    sync.Mutex
	base  string
	timer clockwork.Timer
	gen   uint64
}

// NewIndicator creates an Indicator showing RDY. hold <= 0 uses
// DefaultTriggerHold.
func NewIndicator(d Display, clock clockwork.Clock, hold time.Duration) *Indicator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if hold <= 0 {
		hold = DefaultTriggerHold
	}
	i := &Indicator{display: d, clock: clock, hold: hold, base: MessageReady}
	d.ShowMessage(MessageReady)
	return i
}

// Ready shows RDY.
func (i *Indicator) Ready() { i.setBase(MessageReady) }

// Connecting shows CONN.
func (i *Indicator) Connecting() { i.setBase(MessageConnecting) }

// Error shows ERR.
func (i *Indicator) Error() { i.setBase(MessageError) }

// Triggered shows TRIG for the hold time, then the current link state.
func (i *Indicator) Triggered() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.timer != nil {
		i.timer.Stop()
	}
	i.display.ShowMessage(MessageTriggered)
	i.gen++
	gen := i.gen
	i.timer = i.clock.AfterFunc(i.hold, func() { i.restore(gen) })
}

// Text returns the link state message, ignoring any TRIG flash.
func (i *Indicator) Text() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.base
}

// Stop cancels a pending TRIG restore.
func (i *Indicator) Stop() {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.gen++
}

func (i *Indicator) setBase(text string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.base = text
	if i.timer == nil {
		i.display.ShowMessage(text)
	}
}

func (i *Indicator) restore(gen uint64) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if gen != i.gen {
		return
	}
	i.timer = nil
	i.display.ShowMessage(i.base)
}
