package client

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDispatcherIDsStrictlyIncrease(t *testing.T) {
	d := newDispatcher(testLogger())

	// Freeze the clock: ids must still increase.
	frozen := time.Now()
	d.now = func() time.Time { return frozen }

	prev := d.nextID()
	assert.Equal(t, frozen.UnixMilli(), prev)
	for i := 0; i < 100; i++ {
		id := d.nextID()
		assert.Greater(t, id, prev)
		prev = id
	}
}

func TestDispatcherSendReceivesCorrelatedResponse(t *testing.T) {
	d := newDispatcher(testLogger())

	var sentID int64
	write := func(data []byte) error {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		sentID = msg.Command.ID
		// Simulate the read loop delivering the server response.
		go d.Deliver(protocol.Response{CommandID: msg.Command.ID, Status: protocol.StatusAck})
		return nil
	}

	resp, err := d.Send(context.Background(), write, "configure", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, sentID, resp.CommandID)
	assert.Equal(t, protocol.StatusAck, resp.Status)
}

func TestDispatcherTimeoutDropsLateResponse(t *testing.T) {
	d := newDispatcher(testLogger())

	var capturedID int64
	write := func(data []byte) error {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		capturedID = msg.Command.ID
		return nil
	}

	_, err := d.Send(context.Background(), write, "configure", nil, 20*time.Millisecond)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCommandTimeout))

	// The late response must be dropped, not queued for the next send.
	d.Deliver(protocol.Response{CommandID: capturedID, Status: protocol.StatusAck})

	write2 := func(data []byte) error {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		go d.Deliver(protocol.Response{CommandID: msg.Command.ID, Status: protocol.StatusCommandFailed})
		return nil
	}
	resp, err := d.Send(context.Background(), write2, "configure", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusCommandFailed, resp.Status)
}

func TestDispatcherWriteFailure(t *testing.T) {
	d := newDispatcher(testLogger())

	write := func([]byte) error { return errors.ErrNotConnected }
	_, err := d.Send(context.Background(), write, "configure", nil, time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotConnected))
}

func TestDispatcherContextCancellation(t *testing.T) {
	d := newDispatcher(testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	write := func([]byte) error {
		cancel()
		return nil
	}

	_, err := d.Send(ctx, write, "configure", nil, time.Minute)
	assert.Error(t, err)
}

func TestDispatcherConcurrentSendersQueue(t *testing.T) {
	d := newDispatcher(testLogger())

	var mu sync.Mutex
	var order []int64
	write := func(data []byte) error {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		mu.Lock()
		order = append(order, msg.Command.ID)
		mu.Unlock()
		go d.Deliver(protocol.Response{CommandID: msg.Command.ID, Status: protocol.StatusAck})
		return nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := d.Send(context.Background(), write, "configure", nil, time.Second)
			assert.NoError(t, err)
			assert.Equal(t, protocol.StatusAck, resp.Status)
		}()
	}
	wg.Wait()

	// One outstanding command at a time: ids appear in strictly
	// increasing send order.
	require.Len(t, order, 8)
	for i := 1; i < len(order); i++ {
		assert.Greater(t, order[i], order[i-1])
	}
}

func TestDispatcherDropsMismatchedID(t *testing.T) {
	d := newDispatcher(testLogger())

	write := func(data []byte) error {
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		go func() {
			// Wrong id first, then the real one.
			d.Deliver(protocol.Response{CommandID: msg.Command.ID + 999, Status: protocol.StatusAck})
			d.Deliver(protocol.Response{CommandID: msg.Command.ID, Status: protocol.StatusAck})
		}()
		return nil
	}

	resp, err := d.Send(context.Background(), write, "configure", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, protocol.StatusAck, resp.Status)
}
