package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/envlink/accumulator"
	"github.com/c360/envlink/errors"
)

const (
	// StreamName is the JetStream stream holding all envlink output.
	StreamName = "ENVLINK"

	subjectPrefix    = "envlink"
	telemetrySubject = subjectPrefix + ".telemetry"
	faultSubject     = subjectPrefix + ".fault"
)

// NATS publishes summaries and faults to JetStream subjects. Summaries
// go to envlink.telemetry.<channel>, faults to envlink.fault.<client>.
// Every message carries a Nats-Msg-Id header so redeliveries after a
// publish retry deduplicate server-side.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewNATS creates the JetStream context and ensures the output stream
// exists.
func NewNATS(ctx context.Context, nc *nats.Conn, logger *slog.Logger) (*NATS, error) {
	if nc == nil {
		return nil, errors.WrapInvalid(
			errors.New("nil NATS connection"), "sink", "NewNATS", "dependency check")
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(nc)
	if err != nil {
		return nil, errors.Wrap(err, "sink", "NewNATS", "jetstream context")
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     StreamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return nil, errors.Wrap(err, "sink", "NewNATS", "stream creation")
	}

	return &NATS{nc: nc, js: js, logger: logger}, nil
}

// PublishSummary publishes one summary to its channel subject.
func (n *NATS) PublishSummary(ctx context.Context, summary accumulator.Summary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return errors.WrapInvalid(err, "sink", "PublishSummary", "summary encoding")
	}

	subject := fmt.Sprintf("%s.%s", telemetrySubject, summary.Channel)
	if err := n.publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "sink", "PublishSummary", "jetstream publish")
	}
	return nil
}

// PublishFault publishes one fault notification.
func (n *NATS) PublishFault(ctx context.Context, fault Fault) error {
	data, err := json.Marshal(fault)
	if err != nil {
		return errors.WrapInvalid(err, "sink", "PublishFault", "fault encoding")
	}

	subject := fmt.Sprintf("%s.%s", faultSubject, fault.ClientID)
	if err := n.publish(ctx, subject, data); err != nil {
		return errors.WrapTransient(err, "sink", "PublishFault", "jetstream publish")
	}
	n.logger.Error("client fault published",
		"client_id", fault.ClientID, "reason", fault.Reason, "failures", fault.Failures)
	return nil
}

// Close flushes pending publishes. The NATS connection is owned by the
// caller and left open.
func (n *NATS) Close() error {
	if err := n.nc.Flush(); err != nil {
		return errors.Wrap(err, "sink", "Close", "flush")
	}
	return nil
}

func (n *NATS) publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	msg.Header.Set("Nats-Msg-Id", uuid.NewString())

	_, err := n.js.PublishMsg(ctx, msg)
	return err
}
