package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestHeartbeatBeatsEveryInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	beats := make(chan struct{}, 8)
	hb := NewHeartbeat(DefaultHeartbeatConfig(), clock, func() error {
		beats <- struct{}{}
		return nil
	}, nil)

	hb.Start(context.Background())
	defer hb.Stop()

	waitFor(t, beats) // immediate first beat
	for i := 0; i < 3; i++ {
		clock.Advance(DefaultHeartbeatInterval)
		waitFor(t, beats)
	}
	assert.Eventually(t, func() bool { return hb.Sent() == 4 }, time.Second, 5*time.Millisecond)
}

func TestHeartbeatFailureStops(t *testing.T) {
	clock := clockwork.NewFakeClock()
	boom := errors.New("broken pipe")
	failed := make(chan error, 1)
	hb := NewHeartbeat(HeartbeatConfig{}, clock, func() error { return boom }, func(err error) { failed <- err })

	hb.Start(context.Background())
	select {
	case err := <-failed:
		assert.ErrorIs(t, err, boom)
	case <-time.After(time.Second):
		t.Fatal("onFailure not called")
	}
	hb.Stop() // no-op after failure
	assert.Equal(t, uint64(0), hb.Sent())
}

func TestDetectionDelay(t *testing.T) {
	assert.Equal(t, 6*time.Second, DefaultHeartbeatConfig().DetectionDelay())
	assert.Equal(t, time.Second, HeartbeatConfig{Interval: 250 * time.Millisecond, MaxMissed: 4}.DetectionDelay())
}
