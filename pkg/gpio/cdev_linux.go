//go:build linux

package gpio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "sprintgate"

type cdevInput struct {
	line  *gpiocdev.Line
	edges chan Edge

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

// OpenInput requests an input line with edge detection from the GPIO
// character device.
func OpenInput(cfg InputConfig) (EdgeLine, error) {
	cfg.applyDefaults()

	in := &cdevInput{edges: make(chan Edge, cfg.Buffer)}
	clock := cfg.Clock

	opts := []gpiocdev.LineReqOption{
		gpiocdev.AsInput,
		gpiocdev.WithConsumer(consumer),
		gpiocdev.WithEventHandler(func(evt gpiocdev.LineEvent) {
			// Stamp first; everything else happens on the consumer side.
			now := clock.Now()
			in.enqueue(Edge{
				Time:   now,
				Rising: evt.Type == gpiocdev.LineEventRisingEdge,
				Seq:    evt.LineSeqno,
			})
		}),
	}
	switch cfg.Edge {
	case EdgeRising:
		opts = append(opts, gpiocdev.WithRisingEdge)
	case EdgeBoth:
		opts = append(opts, gpiocdev.WithBothEdges)
	default:
		opts = append(opts, gpiocdev.WithFallingEdge)
	}
	switch cfg.Pull {
	case PullUp:
		opts = append(opts, gpiocdev.WithPullUp)
	case PullDown:
		opts = append(opts, gpiocdev.WithPullDown)
	}

	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Offset, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: input %s/%d: %v", ErrUnavailable, cfg.Chip, cfg.Offset, err)
	}
	in.line = line
	return in, nil
}

func (in *cdevInput) enqueue(e Edge) {
	in.mu.RLock()
	defer in.mu.RUnlock()
	if in.closed {
		return
	}
	select {
	case in.edges <- e:
	default:
		in.dropped.Add(1)
	}
}

func (in *cdevInput) Edges() <-chan Edge { return in.edges }

func (in *cdevInput) Dropped() uint64 { return in.dropped.Load() }

func (in *cdevInput) Close() error {
	in.mu.Lock()
	if in.closed {
		in.mu.Unlock()
		return nil
	}
	in.closed = true
	close(in.edges)
	in.mu.Unlock()
	return in.line.Close()
}

type cdevOutput struct {
	line      *gpiocdev.Line
	closeOnce sync.Once
}

// OpenOutput requests an output line from the GPIO character device.
func OpenOutput(cfg OutputConfig) (OutputLine, error) {
	if cfg.Chip == "" {
		cfg.Chip = "gpiochip0"
	}
	line, err := gpiocdev.RequestLine(cfg.Chip, cfg.Offset,
		gpiocdev.AsOutput(cfg.Initial),
		gpiocdev.WithConsumer(consumer),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: output %s/%d: %v", ErrUnavailable, cfg.Chip, cfg.Offset, err)
	}
	return &cdevOutput{line: line}, nil
}

func (o *cdevOutput) SetValue(v int) error {
	return o.line.SetValue(v)
}

func (o *cdevOutput) Close() error {
	var err error
	o.closeOnce.Do(func() {
		// Leave the line low when releasing it.
		_ = o.line.SetValue(0)
		err = o.line.Close()
	})
	return err
}
