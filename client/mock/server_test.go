package mock

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/protocol"
)

func dialServer(t *testing.T, s *Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn, bufio.NewReader(conn)
}

func sendCommand(t *testing.T, conn net.Conn, name string, id int64, params map[string]any) {
	t.Helper()
	data, err := protocol.Encode(protocol.NewCommand(name, id, params))
	require.NoError(t, err)
	_, err = conn.Write(append(data, '\r', '\n'))
	require.NoError(t, err)
}

func readMessage(t *testing.T, r *bufio.Reader) protocol.Message {
	t.Helper()
	line, err := r.ReadBytes('\n')
	require.NoError(t, err)
	msg, err := protocol.Decode(line[:len(line)-2])
	require.NoError(t, err)
	return msg
}

func validDevices() map[string]any {
	return map[string]any{
		"devices": []any{map[string]any{
			"name":         "Test01",
			"num_channels": 4,
			"dev_type":     "FTDI",
			"dev_id":       "ABC",
			"sens_type":    "Temperature",
		}},
	}
}

func TestServerConfigureAck(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	defer s.Close()

	conn, r := dialServer(t, s)
	sendCommand(t, conn, "configure", 100, validDevices())

	msg := readMessage(t, r)
	require.Equal(t, protocol.MsgTypeResponse, msg.Type)
	assert.Equal(t, int64(100), msg.Response.CommandID)
	assert.Equal(t, protocol.StatusAck, msg.Response.Status)
}

func TestServerRejectsUnknownDeviceField(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	defer s.Close()

	conn, r := dialServer(t, s)
	sendCommand(t, conn, "configure", 101, map[string]any{
		"devices": []any{map[string]any{
			"name":      "Test01",
			"frobnicle": true,
		}},
	})

	msg := readMessage(t, r)
	require.Equal(t, protocol.MsgTypeResponse, msg.Type)
	assert.Equal(t, protocol.StatusBadParameter, msg.Response.Status)
}

func TestServerRejectsUnknownCommand(t *testing.T) {
	s, err := NewServer(Options{})
	require.NoError(t, err)
	defer s.Close()

	conn, r := dialServer(t, s)
	sendCommand(t, conn, "self_destruct", 102, nil)

	msg := readMessage(t, r)
	require.Equal(t, protocol.MsgTypeResponse, msg.Type)
	assert.Equal(t, protocol.StatusUnknownCommand, msg.Response.Status)
}

func TestServerStreamsTelemetryAfterConfigure(t *testing.T) {
	s, err := NewServer(Options{
		TelemetryInterval: 10 * time.Millisecond,
		NextReading: func(now time.Time) protocol.Reading {
			return protocol.Reading{
				SensorName: "Test01",
				Timestamp:  float64(now.UnixNano()) / 1e9,
				Status:     0,
				Values:     []float64{20.5, 21.5},
			}
		},
	})
	require.NoError(t, err)
	defer s.Close()

	conn, r := dialServer(t, s)
	sendCommand(t, conn, "configure", 103, validDevices())

	readMessage(t, r) // response

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	msg := readMessage(t, r)
	require.Equal(t, protocol.MsgTypeTelemetry, msg.Type)

	reading, err := protocol.ParseTelemetry(msg.Telemetry.Payload)
	require.NoError(t, err)
	assert.Equal(t, "Test01", reading.SensorName)
	assert.Equal(t, []float64{20.5, 21.5}, reading.Values)
}
