package race

import (
	"sync"
	"sync/atomic"
)

// LastRun is the most recent completed run.
type LastRun struct {
	Name string  `json:"name"`
	Time float64 `json:"time"`
}

// Snapshot is the presentation view of a node. Values are immutable once
// published.
type Snapshot struct {
	CurrentRunner string   `json:"current_runner"`
	ElapsedTime   float64  `json:"elapsed_time"`
	LastRun       *LastRun `json:"last_run"`
	TimingMode    string   `json:"timing_mode"`
	GPSStatus     string   `json:"gps_status"`
	LinkStatus    string   `json:"link_status"`
	State         string   `json:"state"`
}

// publisher holds the current snapshot and fans it out to subscribers.
// Subscribers see the latest value; intermediate values may be skipped.
// Snapshots arriving out of sequence are dropped.
type publisher struct {
	current atomic.Pointer[Snapshot]

	mu   sync.Mutex
	seq  uint64
	subs map[chan Snapshot]struct{}
}

func newPublisher(initial Snapshot, seq uint64) *publisher {
	p := &publisher{seq: seq, subs: make(map[chan Snapshot]struct{})}
	p.current.Store(&initial)
	return p
}

func (p *publisher) load() Snapshot {
	return *p.current.Load()
}

func (p *publisher) publish(s Snapshot, seq uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if seq <= p.seq {
		return
	}
	p.seq = seq
	p.current.Store(&s)
	for ch := range p.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- s:
		default:
		}
	}
}

func (p *publisher) subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)
	ch <- p.load()

	p.mu.Lock()
	p.subs[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subs, ch)
			p.mu.Unlock()
		})
	}
}
