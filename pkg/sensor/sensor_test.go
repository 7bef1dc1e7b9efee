package sensor

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprintgate/sprintgate-go/pkg/gpio"
	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestSensor(t *testing.T, source model.Source) (*Sensor, *gpio.SimLine) {
	t.Helper()
	line := gpio.NewSimLine("beam", nil)
	t.Cleanup(func() { line.Close() })
	s := New(Config{
		Line:    line,
		Stamper: timing.NewSystemProvider(nil),
		Source:  source,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return s, line
}

func TestWaitForTriggerDebounce(t *testing.T) {
	tests := []struct {
		name    string
		offsets []time.Duration
		want    []bool
	}{
		{
			name:    "first edge accepted",
			offsets: []time.Duration{0},
			want:    []bool{true},
		},
		{
			name:    "bounce collapsed",
			offsets: []time.Duration{0, 50 * time.Millisecond, 120 * time.Millisecond, 300 * time.Millisecond},
			want:    []bool{true, false, false, false},
		},
		{
			name:    "window anchored on last accepted",
			offsets: []time.Duration{0, 200 * time.Millisecond, 301 * time.Millisecond, 500 * time.Millisecond, 700 * time.Millisecond},
			want:    []bool{true, false, true, false, true},
		},
		{
			name:    "out of order edge suppressed",
			offsets: []time.Duration{time.Second, 0},
			want:    []bool{true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, line := newTestSensor(t, model.SourceLocal)
			for i, off := range tt.offsets {
				line.FireAt(epoch.Add(off))
				ts, ok, err := s.WaitForTrigger(context.Background())
				require.NoError(t, err)
				assert.Equal(t, epoch.Add(off), ts)
				assert.Equal(t, tt.want[i], ok, "edge %d at %v", i, off)
			}
		})
	}
}

func TestWaitForTriggerCancelled(t *testing.T) {
	s, _ := newTestSensor(t, model.SourceLocal)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok, err := s.WaitForTrigger(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunProducesSequencedEvents(t *testing.T) {
	s, line := newTestSensor(t, model.SourceRemote)

	out := make(chan model.TriggerEvent, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, out) }()

	line.FireAt(epoch)
	line.FireAt(epoch.Add(100 * time.Millisecond)) // bounce
	line.FireAt(epoch.Add(time.Second))

	first := <-out
	second := <-out
	assert.Equal(t, model.TriggerEvent{Source: model.SourceRemote, Timestamp: epoch, Mode: timing.ModeSystem, Sequence: 1}, first)
	assert.Equal(t, uint64(2), second.Sequence)
	assert.Equal(t, epoch.Add(time.Second), second.Timestamp)
	assert.Equal(t, uint64(1), s.Suppressed())

	require.NoError(t, s.Close())
	assert.ErrorIs(t, <-errCh, ErrLineClosed)
}

func TestRunStopsOnCancel(t *testing.T) {
	s, _ := newTestSensor(t, model.SourceLocal)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx, make(chan model.TriggerEvent)) }()
	cancel()
	assert.NoError(t, <-errCh)
}

func TestStampsThroughWiredAnchor(t *testing.T) {
	clock := clockwork.NewFakeClockAt(epoch.Add(time.Hour))
	wired := timing.NewWiredProvider(clock, true)
	wired.Bind(epoch.Add(time.Hour), epoch)

	line := gpio.NewSimLine("beam", clock)
	defer line.Close()
	s := New(Config{Line: line, Stamper: wired, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})

	clock.Advance(10200 * time.Millisecond)
	line.Fire()
	ts, ok, err := s.WaitForTrigger(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, epoch.Add(10200*time.Millisecond), ts)
}
