package gpio

import (
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultEdgeBuffer is the default capacity of an edge channel.
const DefaultEdgeBuffer = 16

// ErrUnavailable indicates the GPIO subsystem or line could not be opened.
var ErrUnavailable = errors.New("gpio unavailable")

// ErrClosed indicates an operation on a released line.
var ErrClosed = errors.New("gpio line closed")

// Edge is a single edge observed on an input line.
type Edge struct {
	// Time is the local clock reading captured in the interrupt path.
	Time time.Time

	// Rising is true for a rising edge, false for a falling edge.
	Rising bool

	// Seq is the per-line event sequence number.
	Seq uint32
}

// EdgeLine is an input line delivering edges.
type EdgeLine interface {
	// Edges returns the channel edges are delivered on. It is closed when
	// the line is closed.
	Edges() <-chan Edge

	// Dropped returns the number of edges dropped because the channel was full.
	Dropped() uint64

	// Close releases the line. Safe to call more than once.
	Close() error
}

// OutputLine is a driven output line.
type OutputLine interface {
	// SetValue drives the line: 0 for low, 1 for high.
	SetValue(v int) error

	// Close releases the line. Safe to call more than once.
	Close() error
}

// EdgeKind selects which edges an input reports.
type EdgeKind uint8

const (
	// EdgeFalling reports falling edges (beam broken on a pull-up line).
	EdgeFalling EdgeKind = iota
	// EdgeRising reports rising edges.
	EdgeRising
	// EdgeBoth reports both edges.
	EdgeBoth
)

// Pull selects the line bias.
type Pull uint8

const (
	// PullNone leaves the line floating.
	PullNone Pull = iota
	// PullUp enables the pull-up resistor.
	PullUp
	// PullDown enables the pull-down resistor.
	PullDown
)

// InputConfig configures an input line.
type InputConfig struct {
	// Chip is the GPIO chip name, e.g. "gpiochip0".
	Chip string

	// Offset is the line offset on the chip (BCM number on a Raspberry Pi).
	Offset int

	// Edge selects reported edges.
	Edge EdgeKind

	// Pull selects the bias.
	Pull Pull

	// Buffer is the edge channel capacity (default DefaultEdgeBuffer).
	Buffer int

	// Clock stamps edges. Defaults to the real clock.
	Clock clockwork.Clock
}

// OutputConfig configures an output line.
type OutputConfig struct {
	// Chip is the GPIO chip name.
	Chip string

	// Offset is the line offset on the chip.
	Offset int

	// Initial is the initial output value.
	Initial int
}

func (c *InputConfig) applyDefaults() {
	if c.Chip == "" {
		c.Chip = "gpiochip0"
	}
	if c.Buffer <= 0 {
		c.Buffer = DefaultEdgeBuffer
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
}

// Pulse drives line high for width and back low. The returned instant is
// read from clock immediately before the line is raised.
func Pulse(line OutputLine, width time.Duration, clock clockwork.Clock) (time.Time, error) {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	sent := clock.Now()
	if err := line.SetValue(1); err != nil {
		return time.Time{}, err
	}
	clock.Sleep(width)
	if err := line.SetValue(0); err != nil {
		return sent, err
	}
	return sent, nil
}
