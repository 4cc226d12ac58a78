package client

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/accumulator"
	"github.com/c360/envlink/client/mock"
	"github.com/c360/envlink/errors"
	"github.com/c360/envlink/pkg/timestamp"
	"github.com/c360/envlink/protocol"
	"github.com/c360/envlink/sink"
)

func steadyReading(now time.Time) protocol.Reading {
	return protocol.Reading{
		SensorName: "Test01",
		Timestamp:  timestamp.ToUnixSeconds(now),
		Status:     0,
		Values:     []float64{24.0, 18.5},
	}
}

func streamingServer(t *testing.T) *mock.Server {
	t.Helper()
	s, err := mock.NewServer(mock.Options{
		TelemetryInterval: 10 * time.Millisecond,
		NextReading:       steadyReading,
		Logger:            testLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig(addr string) Config {
	host, portStr, _ := net.SplitHostPort(addr)
	port, _ := strconv.Atoi(portStr)
	return Config{
		Host:                host,
		Port:                port,
		ConnectTimeout:      Duration(2 * time.Second),
		ReadTimeout:         Duration(500 * time.Millisecond),
		SoftThreshold:       2,
		HardThreshold:       5,
		SafeInterval:        Duration(200 * time.Millisecond),
		ReconnectAttempts:   2,
		AccumulatorInterval: Duration(150 * time.Millisecond),
		AccumulatorKind:     accumulator.KindMeanStd,
		Devices: []DeviceConfig{{
			Name:        "Test01",
			NumChannels: 2,
			DevType:     DevTypeFTDI,
			DevID:       "ABC",
			SensType:    "Temperature",
		}},
	}
}

func startClient(t *testing.T, cfg Config, mem *sink.Memory) *Client {
	t.Helper()
	c, err := New(Deps{Config: cfg, Logger: testLogger(), Sink: mem})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(2 * time.Second) })
	return c
}

func TestClientStreamsSummariesToSink(t *testing.T) {
	s := streamingServer(t)
	mem := sink.NewMemory()
	c := startClient(t, testConfig(s.Addr()), mem)

	require.Eventually(t, func() bool {
		return len(mem.Summaries()) >= 2
	}, 3*time.Second, 20*time.Millisecond, "no summaries flushed")

	assert.Equal(t, StateReading, c.State())

	got := mem.Summaries()
	channels := map[string]bool{}
	for _, sum := range got {
		channels[sum.Channel] = true
		assert.Equal(t, accumulator.KindMeanStd, sum.Kind)
		assert.Greater(t, sum.Samples, 0)
		assert.Equal(t, 0, sum.BadSamples)
	}
	assert.True(t, channels["Test01.ch0"])

	require.NoError(t, c.Stop(2*time.Second))
	assert.Empty(t, mem.Faults())
}

func TestClientSurvivesConnectionDrop(t *testing.T) {
	s := streamingServer(t)
	mem := sink.NewMemory()
	c := startClient(t, testConfig(s.Addr()), mem)

	require.Eventually(t, func() bool {
		return len(mem.Summaries()) > 0
	}, 3*time.Second, 20*time.Millisecond)

	before := len(mem.Summaries())
	s.DropConnections()

	// The client reconnects, reconfigures and resumes streaming without
	// surfacing a fault.
	require.Eventually(t, func() bool {
		return len(mem.Summaries()) > before+1
	}, 5*time.Second, 20*time.Millisecond, "did not resume after drop")

	assert.Equal(t, StateReading, c.State())
	assert.Empty(t, mem.Faults())
}

func TestClientFaultsAfterHardThreshold(t *testing.T) {
	// Silent server: accepts connections, never sends anything.
	s, err := mock.NewServer(mock.Options{Silent: true, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig(s.Addr())
	cfg.Devices = nil // no configure traffic to reset the counter
	cfg.ReadTimeout = Duration(100 * time.Millisecond)
	cfg.HardThreshold = 3
	cfg.SafeInterval = Duration(50 * time.Millisecond)
	cfg.ReconnectAttempts = 1

	mem := sink.NewMemory()
	c := startClient(t, cfg, mem)

	require.Eventually(t, func() bool {
		return c.State() == StateFaulted
	}, 5*time.Second, 10*time.Millisecond, "client did not fault")

	// Exactly one fault crosses the boundary.
	require.Eventually(t, func() bool {
		return len(mem.Faults()) == 1
	}, time.Second, 10*time.Millisecond)
	time.Sleep(300 * time.Millisecond)
	require.Len(t, mem.Faults(), 1)

	fault := mem.Faults()[0]
	assert.Equal(t, c.ID(), fault.ClientID)
	assert.Equal(t, 3, fault.Failures)
	assert.NotEmpty(t, fault.Reason)

	// Faulted is terminal: commands are refused.
	_, err = c.SendCommand(context.Background(), "configure", nil, time.Second)
	assert.True(t, errors.Is(err, errors.ErrFaulted))
}

func TestClientResetAfterFault(t *testing.T) {
	s, err := mock.NewServer(mock.Options{Silent: true, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig(s.Addr())
	cfg.Devices = nil
	cfg.ReadTimeout = Duration(100 * time.Millisecond)
	cfg.HardThreshold = 3
	cfg.SafeInterval = Duration(50 * time.Millisecond)
	cfg.ReconnectAttempts = 1

	mem := sink.NewMemory()
	c := startClient(t, cfg, mem)

	require.Eventually(t, func() bool {
		return c.State() == StateFaulted
	}, 5*time.Second, 10*time.Millisecond)

	// The loop may still be unwinding right after the state flips.
	require.Eventually(t, func() bool {
		return c.Reset() == nil
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, StateIdle, c.State())

	// A reset client starts again from Idle.
	require.NoError(t, c.Start(context.Background()))
	require.Eventually(t, func() bool {
		return c.State() == StateFaulted
	}, 5*time.Second, 10*time.Millisecond, "restarted loop did not run")
	require.Eventually(t, func() bool {
		return len(mem.Faults()) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestClientResetRequiresFault(t *testing.T) {
	s := streamingServer(t)
	mem := sink.NewMemory()
	c := startClient(t, testConfig(s.Addr()), mem)

	assert.Error(t, c.Reset())
}

func TestClientStopIsPrompt(t *testing.T) {
	s, err := mock.NewServer(mock.Options{Silent: true, Logger: testLogger()})
	require.NoError(t, err)
	defer s.Close()

	cfg := testConfig(s.Addr())
	cfg.Devices = nil
	// Long read timeout: Stop must not wait it out.
	cfg.ReadTimeout = Duration(30 * time.Second)
	cfg.SafeInterval = Duration(1 * time.Second)

	mem := sink.NewMemory()
	c := startClient(t, cfg, mem)

	require.Eventually(t, func() bool {
		return c.State() == StateReading
	}, 3*time.Second, 10*time.Millisecond)

	start := time.Now()
	require.NoError(t, c.Stop(5*time.Second))
	assert.Less(t, time.Since(start), 2*time.Second, "stop waited for the read timeout")
}

func TestClientSendCommandRejectedParameters(t *testing.T) {
	s := streamingServer(t)
	mem := sink.NewMemory()
	c := startClient(t, testConfig(s.Addr()), mem)

	require.Eventually(t, func() bool {
		return c.State() == StateReading
	}, 3*time.Second, 10*time.Millisecond)

	resp, err := c.SendCommand(context.Background(), "configure", map[string]any{
		"devices": []any{map[string]any{"name": "Test01", "frobnicle": 1}},
	}, 2*time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCommandFailed))
	assert.Equal(t, protocol.StatusBadParameter, resp.Status)
}

func TestClientSendCommandRequiresConnection(t *testing.T) {
	mem := sink.NewMemory()
	c, err := New(Deps{Config: testConfig("127.0.0.1:9"), Logger: testLogger(), Sink: mem})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())

	_, err = c.SendCommand(context.Background(), "configure", nil, time.Second)
	assert.True(t, errors.Is(err, errors.ErrNotConnected))
}

func TestClientLifecycleGuards(t *testing.T) {
	mem := sink.NewMemory()
	c, err := New(Deps{Config: testConfig("127.0.0.1:9"), Logger: testLogger(), Sink: mem})
	require.NoError(t, err)

	// Start before Initialize is rejected.
	assert.Error(t, c.Start(context.Background()))
	assert.Error(t, c.Stop(time.Second))

	require.NoError(t, c.Initialize())
	assert.Error(t, c.Initialize())
}

func TestClientHealthAndMeta(t *testing.T) {
	s := streamingServer(t)
	mem := sink.NewMemory()
	c := startClient(t, testConfig(s.Addr()), mem)

	require.Eventually(t, func() bool {
		return c.State() == StateReading
	}, 3*time.Second, 10*time.Millisecond)

	meta := c.Meta()
	assert.Equal(t, "client", meta.Type)

	require.Eventually(t, func() bool {
		return c.DataFlow().MessagesPerSecond > 0
	}, 3*time.Second, 20*time.Millisecond)

	health := c.Health()
	assert.True(t, health.Healthy)
	assert.Greater(t, health.Uptime, time.Duration(0))
}
