package client

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/protocol"
)

// writeFunc transmits one encoded message on the current connection.
type writeFunc func(data []byte) error

// dispatcher correlates commands with their responses. At most one
// command is outstanding at a time; concurrent senders queue on sendMu.
// Command ids are the sending-side UNIX time in milliseconds and
// strictly increase across the client's lifetime, bumping by one when
// the clock has not advanced between sends.
type dispatcher struct {
	logger *slog.Logger

	sendMu sync.Mutex // serializes senders, one outstanding command
	lastID int64

	mu        sync.Mutex // guards pending correlation state
	pendingID int64
	pendingCh chan protocol.Response

	// now is replaceable in tests.
	now func() time.Time
}

func newDispatcher(logger *slog.Logger) *dispatcher {
	return &dispatcher{
		logger: logger,
		now:    time.Now,
	}
}

// nextID allocates a strictly increasing command id.
func (d *dispatcher) nextID() int64 {
	id := d.now().UnixMilli()
	if id <= d.lastID {
		id = d.lastID + 1
	}
	d.lastID = id
	return id
}

// Send transmits one command and waits for its correlated response. On
// timeout the pending entry is discarded so a late response is dropped
// rather than matched against a newer command.
func (d *dispatcher) Send(ctx context.Context, write writeFunc, name string, parameters map[string]any, timeout time.Duration) (protocol.Response, error) {
	d.sendMu.Lock()
	defer d.sendMu.Unlock()

	id := d.nextID()
	msg := protocol.NewCommand(name, id, parameters)
	data, err := protocol.Encode(msg)
	if err != nil {
		return protocol.Response{}, errors.WrapInvalid(err, "client", "dispatcher.Send", "command encoding")
	}

	ch := make(chan protocol.Response, 1)
	d.mu.Lock()
	d.pendingID = id
	d.pendingCh = ch
	d.mu.Unlock()
	defer d.clearPending()

	if err := write(data); err != nil {
		return protocol.Response{}, errors.WrapTransient(err, "client", "dispatcher.Send", "command write")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return protocol.Response{}, errors.WrapTransient(
			errors.ErrCommandTimeout, "client", "dispatcher.Send", "response wait")
	case <-ctx.Done():
		return protocol.Response{}, errors.WrapTransient(ctx.Err(), "client", "dispatcher.Send", "response wait")
	}
}

// Deliver routes an incoming response to the waiting sender, or logs and
// drops it when nothing is waiting for that id.
func (d *dispatcher) Deliver(resp protocol.Response) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pendingCh == nil || resp.CommandID != d.pendingID {
		d.logger.Warn("dropping uncorrelated response",
			"cmd_id", resp.CommandID, "cmd_status", resp.Status)
		return
	}

	d.pendingCh <- resp
	d.pendingCh = nil
	d.pendingID = 0
}

func (d *dispatcher) clearPending() {
	d.mu.Lock()
	d.pendingCh = nil
	d.pendingID = 0
	d.mu.Unlock()
}
