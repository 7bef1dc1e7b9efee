package results

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sprintgate/sprintgate-go/pkg/model"
	"github.com/sprintgate/sprintgate-go/pkg/race"
	"github.com/sprintgate/sprintgate-go/pkg/timing"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) PublishMsg(msg *nats.Msg) error {
	return m.Called(msg).Error(0)
}

func (m *mockConn) FlushWithContext(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockConn) Close() { m.Called() }

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testRecord() race.Record {
	return race.Record{
		ID:         uuid.MustParse("6f1c1f2e-8f4b-4a55-9c43-0d6f3f2f9a10"),
		RunnerID:   3,
		RunnerName: "Alice",
		Start:      model.TriggerEvent{Source: model.SourceLocal, Timestamp: epoch, Mode: timing.ModeGPS, Sequence: 4},
		Finish:     model.TriggerEvent{Source: model.SourceRemote, Timestamp: epoch.Add(7400 * time.Millisecond), Mode: timing.ModeGPS, Sequence: 9},
		Duration:   7400 * time.Millisecond,
	}
}

func TestSaveRecordPublishes(t *testing.T) {
	conn := &mockConn{}
	var sent *nats.Msg
	conn.On("PublishMsg", mock.Anything).Run(func(args mock.Arguments) {
		sent = args.Get(0).(*nats.Msg)
	}).Return(nil)
	conn.On("FlushWithContext", mock.Anything).Return(nil)

	p := NewPublisher(conn, Config{
		Clock:  clockwork.NewFakeClockAt(epoch.Add(time.Minute)),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, p.SaveRecord(t.Context(), testRecord()))
	conn.AssertExpectations(t)

	require.NotNil(t, sent)
	assert.Equal(t, DefaultSubject, sent.Subject)
	assert.Equal(t, "6f1c1f2e-8f4b-4a55-9c43-0d6f3f2f9a10", sent.Header.Get(nats.MsgIdHdr))

	var msg Message
	require.NoError(t, json.Unmarshal(sent.Data, &msg))
	assert.Equal(t, "Alice", msg.Runner)
	assert.Equal(t, int64(3), msg.RunnerID)
	assert.InDelta(t, 7.4, msg.Duration, 1e-9)
	assert.Equal(t, "GPS", msg.Start.Mode)
	assert.Equal(t, uint64(9), msg.Finish.Sequence)
	assert.InDelta(t, model.UnixSeconds(epoch.Add(time.Minute)), msg.Published, 1e-6)
}

func TestSaveRecordErrors(t *testing.T) {
	t.Run("publish", func(t *testing.T) {
		conn := &mockConn{}
		conn.On("PublishMsg", mock.Anything).Return(nats.ErrConnectionClosed)
		p := NewPublisher(conn, Config{Subject: "custom"})

		err := p.SaveRecord(t.Context(), testRecord())
		assert.ErrorIs(t, err, nats.ErrConnectionClosed)
		conn.AssertNotCalled(t, "FlushWithContext", mock.Anything)
	})

	t.Run("flush", func(t *testing.T) {
		conn := &mockConn{}
		conn.On("PublishMsg", mock.Anything).Return(nil)
		conn.On("FlushWithContext", mock.Anything).Return(context.DeadlineExceeded)
		p := NewPublisher(conn, Config{})

		err := p.SaveRecord(t.Context(), testRecord())
		assert.True(t, errors.Is(err, context.DeadlineExceeded))
	})
}

func TestClose(t *testing.T) {
	conn := &mockConn{}
	conn.On("Close").Return()
	p := NewPublisher(conn, Config{})
	require.NoError(t, p.Close())
	conn.AssertExpectations(t)
}
