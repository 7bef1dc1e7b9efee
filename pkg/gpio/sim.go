package gpio

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

// SimLine is an in-process line. As an EdgeLine it reports edges injected
// with Fire; as an OutputLine a rising transition fires every connected
// SimLine, which lets a simulated master pulse reach a simulated slave.
type SimLine struct {
	name  string
	clock clockwork.Clock
	edges chan Edge

	mu        sync.Mutex
	value     int
	closed    bool
	connected []*SimLine
	seq       uint32

	dropped atomic.Uint64
}

// NewSimLine creates a simulated line.
func NewSimLine(name string, clock clockwork.Clock) *SimLine {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SimLine{
		name:  name,
		clock: clock,
		edges: make(chan Edge, DefaultEdgeBuffer),
	}
}

// Name returns the line name.
func (l *SimLine) Name() string { return l.name }

// Connect wires this line's output to the input of other.
func (l *SimLine) Connect(other *SimLine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = append(l.connected, other)
}

// Fire injects an edge stamped with the line's clock.
func (l *SimLine) Fire() {
	l.FireAt(l.clock.Now())
}

// FireAt injects an edge with an explicit capture instant.
func (l *SimLine) FireAt(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.seq++
	select {
	case l.edges <- Edge{Time: t, Seq: l.seq}:
	default:
		l.dropped.Add(1)
	}
}

// Edges implements EdgeLine.
func (l *SimLine) Edges() <-chan Edge { return l.edges }

// Dropped implements EdgeLine.
func (l *SimLine) Dropped() uint64 { return l.dropped.Load() }

// Value returns the last value driven on the line.
func (l *SimLine) Value() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// SetValue implements OutputLine.
func (l *SimLine) SetValue(v int) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	rising := l.value == 0 && v != 0
	l.value = v
	targets := append([]*SimLine(nil), l.connected...)
	l.mu.Unlock()

	if rising {
		for _, t := range targets {
			t.Fire()
		}
	}
	return nil
}

// Close implements EdgeLine and OutputLine.
func (l *SimLine) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.edges)
	return nil
}

var (
	_ EdgeLine   = (*SimLine)(nil)
	_ OutputLine = (*SimLine)(nil)
)
