package server

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Frame schemas reject malformed input at the edge, before any handler or the
// transformer sees it. Payload schemas are keyed by frame type; unknown types
// pass the envelope check and fail in dispatch with an explicit error.
type frameSchemaRegistry struct {
	once     sync.Once
	initErr  error
	envelope *jsonschema.Schema
	payloads map[string]*jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchemas() error {
	frameSchemas.once.Do(func() {
		envelope, err := jsonschema.CompileString("frame", frameEnvelopeSchema)
		if err != nil {
			frameSchemas.initErr = err
			return
		}
		frameSchemas.envelope = envelope

		payloads := map[string]string{
			"join":      joinPayloadSchema,
			"operation": operationPayloadSchema,
			"cursor":    cursorPayloadSchema,
			"selection": selectionPayloadSchema,
			"ping":      pingPayloadSchema,
			"leave":     leavePayloadSchema,
		}
		frameSchemas.payloads = make(map[string]*jsonschema.Schema, len(payloads))
		for name, schema := range payloads {
			compiled, err := jsonschema.CompileString("frame_"+name, schema)
			if err != nil {
				frameSchemas.initErr = err
				return
			}
			frameSchemas.payloads[name] = compiled
		}
	})
	return frameSchemas.initErr
}

// validateFrame checks a raw inbound frame against the envelope schema and,
// when one exists, the payload schema for its type.
func validateFrame(raw []byte) error {
	if err := initFrameSchemas(); err != nil {
		return err
	}

	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return fmt.Errorf("frame is not a JSON object")
	}
	if err := frameSchemas.envelope.Validate(decoded); err != nil {
		return fmt.Errorf("invalid frame envelope")
	}

	frameType, _ := decoded["type"].(string)
	schema := frameSchemas.payloads[frameType]
	if schema == nil {
		return nil
	}
	payload, ok := decoded["payload"]
	if !ok {
		payload = map[string]any{}
	}
	if err := schema.Validate(payload); err != nil {
		return fmt.Errorf("invalid %s payload", frameType)
	}
	return nil
}

const frameEnvelopeSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "string", "minLength": 1 },
    "payload": {}
  },
  "additionalProperties": true
}`

const joinPayloadSchema = `{
  "type": "object",
  "required": ["boardId"],
  "properties": {
    "boardId": { "type": "string", "minLength": 1 },
    "userId": { "type": "string" },
    "displayName": { "type": "string" },
    "lastVersion": { "type": "integer", "minimum": 0 }
  },
  "additionalProperties": true
}`

const operationPayloadSchema = `{
  "type": "object",
  "required": ["type", "parentVersion"],
  "properties": {
    "id": { "type": "string" },
    "type": { "enum": ["create", "update", "delete", "move", "resize", "style"] },
    "elementId": { "type": "string" },
    "parentVersion": { "type": "integer", "minimum": 0 },
    "timestamp": { "type": "integer" },
    "data": { "type": "object" }
  },
  "additionalProperties": true
}`

const cursorPayloadSchema = `{
  "type": "object",
  "required": ["position"],
  "properties": {
    "position": {
      "type": "object",
      "required": ["x", "y"],
      "properties": {
        "x": { "type": "number" },
        "y": { "type": "number" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": true
}`

const selectionPayloadSchema = `{
  "type": "object",
  "required": ["elementIds"],
  "properties": {
    "elementIds": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": true
}`

const pingPayloadSchema = `{
  "type": "object",
  "properties": {
    "timestamp": { "type": "integer" }
  },
  "additionalProperties": true
}`

const leavePayloadSchema = `{
  "type": "object",
  "properties": {
    "boardId": { "type": "string" }
  },
  "additionalProperties": true
}`
