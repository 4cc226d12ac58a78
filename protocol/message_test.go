package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/envlink/errors"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  Message
	}{
		{
			name: "command with parameters",
			msg: NewCommand("configure", 1624900703949, map[string]any{
				"devices": []any{
					map[string]any{
						"name":         "Test01",
						"num_channels": float64(4),
						"dev_type":     "FTDI",
						"dev_id":       "ABC",
						"sens_type":    "Temperature",
					},
				},
			}),
		},
		{
			name: "command with empty parameters",
			msg:  NewCommand("start_telemetry", 1624900703950, nil),
		},
		{
			name: "response ack",
			msg:  NewResponse(1624900703949, StatusAck),
		},
		{
			name: "response bad parameter",
			msg:  NewResponse(1624900703950, StatusBadParameter),
		},
		{
			name: "telemetry",
			msg:  NewTelemetry("['Test01', 1624900703.949579, 0, 24.0131, 18.5856, 19.5273, 21.4308]"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(tt.msg)
			require.NoError(t, err)

			decoded, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, tt.msg, decoded)
		})
	}
}

func TestDecode_MsgTypeCheckedFirst(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing msg_type", `{"cmd_name":"configure","cmd_id":1,"parameters":{}}`},
		{"unknown msg_type", `{"msg_type":"gibberish","cmd_id":1}`},
		{"non-string msg_type", `{"msg_type":42}`},
		{"not an object", `[1,2,3]`},
		{"not json", `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.IsInvalid(err))
		})
	}
}

func TestDecode_RequiredKeys(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"command missing cmd_id", `{"msg_type":"command","cmd_name":"configure","parameters":{}}`},
		{"command missing parameters", `{"msg_type":"command","cmd_name":"configure","cmd_id":1}`},
		{"command extra key", `{"msg_type":"command","cmd_name":"configure","cmd_id":1,"parameters":{},"extra":1}`},
		{"response missing cmd_status", `{"msg_type":"response","cmd_id":1}`},
		{"response invalid status", `{"msg_type":"response","cmd_id":1,"cmd_status":"maybe"}`},
		{"response extra key", `{"msg_type":"response","cmd_id":1,"cmd_status":"ack","note":"hi"}`},
		{"telemetry missing payload", `{"msg_type":"telemetry"}`},
		{"telemetry non-string payload", `{"msg_type":"telemetry","telemetry":42}`},
		{"telemetry extra key", `{"msg_type":"telemetry","telemetry":"['a', 1.0, 0, 2.0]","seq":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrProtocol) || errors.IsInvalid(err))
		})
	}
}

func TestDecode_OddTelemetryPayloadIsNotAProtocolError(t *testing.T) {
	// Structurally valid telemetry decodes even when the payload makes no
	// sense; sensor-specific parsing happens downstream.
	msg, err := Decode([]byte(`{"msg_type":"telemetry","telemetry":"complete nonsense"}`))
	require.NoError(t, err)
	assert.Equal(t, MsgTypeTelemetry, msg.Type)
	assert.Equal(t, "complete nonsense", msg.Telemetry.Payload)
}

func TestEncode_InvalidMessages(t *testing.T) {
	_, err := Encode(Message{Type: MsgTypeCommand})
	assert.Error(t, err)

	_, err = Encode(Message{Type: "bogus"})
	assert.Error(t, err)

	_, err = Encode(Message{Type: MsgTypeResponse, Response: &Response{CommandID: 1, Status: "nope"}})
	assert.Error(t, err)
}

func TestCmdStatus_Valid(t *testing.T) {
	assert.True(t, StatusAck.Valid())
	assert.True(t, StatusCommandFailed.Valid())
	assert.True(t, StatusUnknownCommand.Valid())
	assert.True(t, StatusBadParameter.Valid())
	assert.False(t, CmdStatus("ok").Valid())
}
