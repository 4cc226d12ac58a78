package protocol

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/envlink/errors"
)

// Per-type structural schemas. Required keys must be present and no
// extra keys are allowed; anything else about the content (notably the
// telemetry payload) is left to downstream parsing.

const commandSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "msg_type": {"const": "command"},
    "cmd_name": {"type": "string", "minLength": 1},
    "cmd_id": {"type": "integer"},
    "parameters": {"type": "object"}
  },
  "required": ["msg_type", "cmd_name", "cmd_id", "parameters"],
  "additionalProperties": false
}`

const responseSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "msg_type": {"const": "response"},
    "cmd_id": {"type": "integer"},
    "cmd_status": {
      "type": "string",
      "enum": ["ack", "command_failed", "unknown_command", "bad_parameter"]
    }
  },
  "required": ["msg_type", "cmd_id", "cmd_status"],
  "additionalProperties": false
}`

const telemetrySchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "msg_type": {"const": "telemetry"},
    "telemetry": {"type": "string", "minLength": 1}
  },
  "required": ["msg_type", "telemetry"],
  "additionalProperties": false
}`

var (
	commandSchema   = mustSchema(commandSchemaJSON)
	responseSchema  = mustSchema(responseSchemaJSON)
	telemetrySchema = mustSchema(telemetrySchemaJSON)
)

func mustSchema(raw string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic(fmt.Sprintf("protocol: invalid message schema: %v", err))
	}
	return schema
}

// validateStructure checks one wire message against its structural schema.
func validateStructure(schema *gojsonschema.Schema, data []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrProtocol, err),
			"codec", "Decode", "schema validation")
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}
		return errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrProtocol, strings.Join(details, "; ")),
			"codec", "Decode", "schema validation")
	}
	return nil
}
