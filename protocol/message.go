// Package protocol implements the JSON line protocol spoken by remote
// sensor data servers. Three message kinds exist: commands (client to
// server), responses (server to client, correlated by cmd_id) and
// telemetry (server to client, unsolicited). The codec is pure: it
// performs no I/O and validates structure only; sensor-specific payload
// parsing happens downstream via ParseTelemetry.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/envlink/errors"
)

// MsgType tags the wire message kind. It is mandatory on every message
// and always checked first.
type MsgType string

const (
	// MsgTypeCommand is a client-to-server command.
	MsgTypeCommand MsgType = "command"
	// MsgTypeResponse is a server reply correlated to a command by cmd_id.
	MsgTypeResponse MsgType = "response"
	// MsgTypeTelemetry is an unsolicited sensor telemetry message.
	MsgTypeTelemetry MsgType = "telemetry"
)

// CmdStatus is the server's verdict on a command.
type CmdStatus string

const (
	// StatusAck indicates the command succeeded.
	StatusAck CmdStatus = "ack"
	// StatusCommandFailed indicates the command was understood but failed.
	StatusCommandFailed CmdStatus = "command_failed"
	// StatusUnknownCommand indicates the command name was not recognized.
	StatusUnknownCommand CmdStatus = "unknown_command"
	// StatusBadParameter indicates a command parameter was rejected.
	StatusBadParameter CmdStatus = "bad_parameter"
)

// Valid reports whether s is a recognized command status.
func (s CmdStatus) Valid() bool {
	switch s {
	case StatusAck, StatusCommandFailed, StatusUnknownCommand, StatusBadParameter:
		return true
	}
	return false
}

// Command is a client-to-server command. ID values sent by one client
// instance strictly increase across a session.
type Command struct {
	Name       string         `json:"cmd_name"`
	ID         int64          `json:"cmd_id"`
	Parameters map[string]any `json:"parameters"`
}

// Response is the server reply to a command.
type Response struct {
	CommandID int64     `json:"cmd_id"`
	Status    CmdStatus `json:"cmd_status"`
}

// Telemetry carries a sensor-specific payload string. Its content is
// opaque at the codec level; see ParseTelemetry.
type Telemetry struct {
	Payload string `json:"telemetry"`
}

// Message is the tagged union of the three wire message kinds. Exactly
// the variant named by Type is non-nil.
type Message struct {
	Type      MsgType
	Command   *Command
	Response  *Response
	Telemetry *Telemetry
}

// wire envelopes carry msg_type alongside the variant fields.

type wireCommand struct {
	MsgType    MsgType        `json:"msg_type"`
	Name       string         `json:"cmd_name"`
	ID         int64          `json:"cmd_id"`
	Parameters map[string]any `json:"parameters"`
}

type wireResponse struct {
	MsgType   MsgType   `json:"msg_type"`
	CommandID int64     `json:"cmd_id"`
	Status    CmdStatus `json:"cmd_status"`
}

type wireTelemetry struct {
	MsgType MsgType `json:"msg_type"`
	Payload string  `json:"telemetry"`
}

// NewCommand builds a command message.
func NewCommand(name string, id int64, parameters map[string]any) Message {
	if parameters == nil {
		parameters = map[string]any{}
	}
	return Message{
		Type:    MsgTypeCommand,
		Command: &Command{Name: name, ID: id, Parameters: parameters},
	}
}

// NewResponse builds a response message.
func NewResponse(commandID int64, status CmdStatus) Message {
	return Message{
		Type:     MsgTypeResponse,
		Response: &Response{CommandID: commandID, Status: status},
	}
}

// NewTelemetry builds a telemetry message.
func NewTelemetry(payload string) Message {
	return Message{
		Type:      MsgTypeTelemetry,
		Telemetry: &Telemetry{Payload: payload},
	}
}

// Encode serializes a message as one JSON object.
func Encode(msg Message) ([]byte, error) {
	switch msg.Type {
	case MsgTypeCommand:
		if msg.Command == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("command variant is nil"), "codec", "Encode", "message check")
		}
		params := msg.Command.Parameters
		if params == nil {
			params = map[string]any{}
		}
		return json.Marshal(wireCommand{
			MsgType:    MsgTypeCommand,
			Name:       msg.Command.Name,
			ID:         msg.Command.ID,
			Parameters: params,
		})
	case MsgTypeResponse:
		if msg.Response == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("response variant is nil"), "codec", "Encode", "message check")
		}
		if !msg.Response.Status.Valid() {
			return nil, errors.WrapInvalid(
				fmt.Errorf("invalid cmd_status %q", msg.Response.Status),
				"codec", "Encode", "status check")
		}
		return json.Marshal(wireResponse{
			MsgType:   MsgTypeResponse,
			CommandID: msg.Response.CommandID,
			Status:    msg.Response.Status,
		})
	case MsgTypeTelemetry:
		if msg.Telemetry == nil {
			return nil, errors.WrapInvalid(
				fmt.Errorf("telemetry variant is nil"), "codec", "Encode", "message check")
		}
		return json.Marshal(wireTelemetry{
			MsgType: MsgTypeTelemetry,
			Payload: msg.Telemetry.Payload,
		})
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownMsgType, msg.Type),
			"codec", "Encode", "msg_type check")
	}
}

// Decode parses one JSON wire message. It fails with a protocol error
// when msg_type is missing or unrecognized, or when the required keys for
// that type are absent or extra keys are present. Well-formed telemetry
// always decodes regardless of its payload content.
func Decode(data []byte) (Message, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: not a JSON object: %v", errors.ErrProtocol, err),
			"codec", "Decode", "unmarshal")
	}

	rawType, ok := envelope["msg_type"]
	if !ok {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: missing msg_type", errors.ErrProtocol),
			"codec", "Decode", "msg_type check")
	}
	var msgType MsgType
	if err := json.Unmarshal(rawType, &msgType); err != nil {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: msg_type is not a string", errors.ErrProtocol),
			"codec", "Decode", "msg_type check")
	}

	switch msgType {
	case MsgTypeCommand:
		if err := validateStructure(commandSchema, data); err != nil {
			return Message{}, err
		}
		var wire wireCommand
		if err := json.Unmarshal(data, &wire); err != nil {
			return Message{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrProtocol, err), "codec", "Decode", "command unmarshal")
		}
		return NewCommand(wire.Name, wire.ID, wire.Parameters), nil

	case MsgTypeResponse:
		if err := validateStructure(responseSchema, data); err != nil {
			return Message{}, err
		}
		var wire wireResponse
		if err := json.Unmarshal(data, &wire); err != nil {
			return Message{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrProtocol, err), "codec", "Decode", "response unmarshal")
		}
		return NewResponse(wire.CommandID, wire.Status), nil

	case MsgTypeTelemetry:
		if err := validateStructure(telemetrySchema, data); err != nil {
			return Message{}, err
		}
		var wire wireTelemetry
		if err := json.Unmarshal(data, &wire); err != nil {
			return Message{}, errors.WrapInvalid(
				fmt.Errorf("%w: %v", errors.ErrProtocol, err), "codec", "Decode", "telemetry unmarshal")
		}
		return NewTelemetry(wire.Payload), nil

	default:
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: %q", errors.ErrUnknownMsgType, msgType),
			"codec", "Decode", "msg_type check")
	}
}
