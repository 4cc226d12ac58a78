// Package natsclient manages the process-wide NATS connection: dialing
// with sane reconnect behavior, lifecycle logging, and a graceful drain
// on shutdown so queued publishes are not lost.
package natsclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360/envlink/errors"
)

// Options configure the managed connection.
type Options struct {
	// URL of the NATS server. Defaults to nats.DefaultURL.
	URL string
	// Name identifies this connection server-side.
	Name string
	// ReconnectWait between reconnect attempts. Defaults to 2s.
	ReconnectWait time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Client is a managed NATS connection.
type Client struct {
	nc       *nats.Conn
	logger   *slog.Logger
	closedCh chan struct{}
}

// Connect dials NATS and installs connection-event logging. The
// connection reconnects indefinitely until Close.
func Connect(opts Options) (*Client, error) {
	if opts.URL == "" {
		opts.URL = nats.DefaultURL
	}
	if opts.Name == "" {
		opts.Name = "envlink"
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("nats_url", opts.URL)

	closedCh := make(chan struct{})
	nc, err := nats.Connect(opts.URL,
		nats.Name(opts.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logger.Info("nats reconnected", "server", conn.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			logger.Info("nats connection closed")
			close(closedCh)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "natsclient", "Connect", "dial")
	}

	logger.Info("nats connected", "server", nc.ConnectedUrl())
	return &Client{nc: nc, logger: logger, closedCh: closedCh}, nil
}

// Conn exposes the underlying connection for JetStream contexts.
func (c *Client) Conn() *nats.Conn {
	return c.nc
}

// Healthy reports whether the connection is currently up.
func (c *Client) Healthy() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Close drains the connection, delivering buffered publishes before
// closing. ctx bounds the wait for the drain to complete.
func (c *Client) Close(ctx context.Context) error {
	if c.nc == nil || c.nc.IsClosed() {
		return nil
	}

	if err := c.nc.Drain(); err != nil {
		c.nc.Close()
		return errors.Wrap(err, "natsclient", "Close", "drain")
	}

	select {
	case <-c.closedCh:
		return nil
	case <-ctx.Done():
		c.nc.Close()
		return errors.Wrap(ctx.Err(), "natsclient", "Close", "drain wait")
	}
}
