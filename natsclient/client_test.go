package natsclient

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/errors"
)

func TestConnectRefused(t *testing.T) {
	// Nothing listens on this port.
	_, err := Connect(Options{
		URL:    "nats://127.0.0.1:1",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
}
