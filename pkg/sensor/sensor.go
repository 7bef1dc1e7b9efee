// Package sensor turns raw beam-break edges into debounced, timestamped
// trigger events.
package sensor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

// DefaultDebounce is the minimum spacing between accepted triggers.
const DefaultDebounce = 300 * time.Millisecond

// ErrLineClosed is returned once the input line has been closed.
var ErrLineClosed = errors.New("sensor line closed")

// Stamper maps edge capture instants into the active time base.
// *timing.Synchronizer implements it.
type Stamper interface {
	At(local time.Time) time.Time
	Mode() timing.Mode
}

// Config configures a Sensor.
type Config struct {
	// Line is the beam input.
	Line gpio.EdgeLine

	// Stamper converts edge instants into timestamps.
	Stamper Stamper

	// Source tags produced events.
	Source model.Source

	// Debounce is the suppression window (default DefaultDebounce).
	Debounce time.Duration

	// Logger is the operational logger.
	Logger *slog.Logger
}

// Sensor debounces one input line.
type Sensor struct {
	line     gpio.EdgeLine
	stamper  Stamper
	source   model.Source
	debounce time.Duration
	logger   *slog.Logger

	mu           sync.Mutex
	lastAccepted time.Time
	hasAccepted  bool
	seq          uint64
	suppressed   uint64

	closeOnce sync.Once
	closeErr  error
}

// New creates a sensor.
func New(cfg Config) *Sensor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sensor{
		line:     cfg.Line,
		stamper:  cfg.Stamper,
		source:   cfg.Source,
		debounce: cfg.Debounce,
		logger:   cfg.Logger.With("component", "sensor", "source", cfg.Source.String()),
	}
}

// WaitForTrigger blocks until an edge arrives and returns its timestamp.
// ok is false when the edge falls within the debounce window of the last
// accepted trigger; such edges do not move the window.
func (s *Sensor) WaitForTrigger(ctx context.Context) (ts time.Time, ok bool, err error) {
	select {
	case <-ctx.Done():
		return time.Time{}, false, ctx.Err()
	case e, open := <-s.line.Edges():
		if !open {
			return time.Time{}, false, ErrLineClosed
		}
		ts = s.stamper.At(e.Time)
		return ts, s.accept(ts), nil
	}
}

func (s *Sensor) accept(ts time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasAccepted && ts.Sub(s.lastAccepted) <= s.debounce {
		s.suppressed++
		return false
	}
	s.lastAccepted = ts
	s.hasAccepted = true
	return true
}

// Run produces a TriggerEvent for every accepted edge until ctx is done or
// the line closes. Sequence numbers start at 1.
func (s *Sensor) Run(ctx context.Context, out chan<- model.TriggerEvent) error {
	for {
		ts, ok, err := s.WaitForTrigger(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		if !ok {
			s.logger.Debug("trigger suppressed by debounce", "at", ts)
			continue
		}

		s.mu.Lock()
		s.seq++
		evt := model.TriggerEvent{
			Source:    s.source,
			Timestamp: ts,
			Mode:      s.stamper.Mode(),
			Sequence:  s.seq,
		}
		s.mu.Unlock()

		s.logger.Debug("trigger accepted", "seq", evt.Sequence, "at", ts, "mode", evt.Mode)
		select {
		case out <- evt:
		case <-ctx.Done():
			return nil
		}
	}
}

// Suppressed returns the number of edges rejected by debounce.
func (s *Sensor) Suppressed() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.suppressed
}

// Dropped returns the number of edges lost because the line buffer was full.
func (s *Sensor) Dropped() uint64 {
	return s.line.Dropped()
}

// Close releases the input line once.
func (s *Sensor) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.line.Close() })
	return s.closeErr
}
