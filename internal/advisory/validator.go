package advisory

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Input schemas for the advisory endpoints. Ranges mirror what the prediction
// service itself enforces, so malformed requests are rejected before any
// quota is at stake.
const soilParametersSchema = `{
	"type": "object",
	"required": ["N", "P", "K", "temperature", "humidity", "ph", "rainfall"],
	"additionalProperties": false,
	"properties": {
		"N":           {"type": "number", "minimum": 0, "maximum": 200},
		"P":           {"type": "number", "minimum": 0, "maximum": 200},
		"K":           {"type": "number", "minimum": 0, "maximum": 200},
		"temperature": {"type": "number", "minimum": 0, "maximum": 50},
		"humidity":    {"type": "number", "minimum": 0, "maximum": 100},
		"ph":          {"type": "number", "minimum": 0, "maximum": 14},
		"rainfall":    {"type": "number", "minimum": 0, "maximum": 500}
	}
}`

const chatMessageSchema = `{
	"type": "object",
	"required": ["message"],
	"properties": {
		"message": {"type": "string", "minLength": 1, "maxLength": 4000}
	}
}`

// Validator holds the compiled advisory input schemas.
type Validator struct {
	soil *jsonschema.Schema
	chat *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	soil, err := jsonschema.CompileString("https://agriassist.dev/schemas/soil-parameters", soilParametersSchema)
	if err != nil {
		return nil, fmt.Errorf("compile soil schema: %w", err)
	}
	chat, err := jsonschema.CompileString("https://agriassist.dev/schemas/chat-message", chatMessageSchema)
	if err != nil {
		return nil, fmt.Errorf("compile chat schema: %w", err)
	}
	return &Validator{soil: soil, chat: chat}, nil
}

func (v *Validator) validate(schema *jsonschema.Schema, raw json.RawMessage) error {
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(doc)
}

// ValidateSoilParameters hard-rejects input outside the model's ranges.
func (v *Validator) ValidateSoilParameters(raw json.RawMessage) error {
	return v.validate(v.soil, raw)
}

// ValidateChatMessage hard-rejects an empty or oversized chat message.
func (v *Validator) ValidateChatMessage(raw json.RawMessage) error {
	return v.validate(v.chat, raw)
}
