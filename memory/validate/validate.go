// Package validate enforces the add_episode input schema at the system
// boundary: external callers submit raw JSON, and malformed input is
// rejected before it ever reaches normalization or the episode store.
// Internal calls between the fingerprinter, coherence engine, and
// episode store trust each other's invariants and are not re-validated.
package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/toolmem/toolmem/memory/errs"
)

const episodeInputSchemaResource = "episode_input.json"

// episodeInputSchema mirrors the Episode input schema: timestamp,
// action_type, action, result{status, output, error}, and an optional
// context{reasoning, description}.
const episodeInputSchema = `{
  "type": "object",
  "required": ["timestamp", "action_type", "action", "result"],
  "properties": {
    "timestamp": {"type": "string", "format": "date-time"},
    "action_type": {"type": "string", "minLength": 1},
    "action": {"type": "object"},
    "result": {
      "type": "object",
      "required": ["status"],
      "properties": {
        "status": {"enum": ["success", "error"]},
        "output": {"type": "string"},
        "error": {"type": ["string", "null"]}
      }
    },
    "context": {
      "type": "object",
      "properties": {
        "reasoning": {"type": "string"},
        "description": {"type": "string"}
      }
    }
  }
}`

// EpisodeInputValidator validates raw add_episode payloads against the
// Episode input schema.
type EpisodeInputValidator struct {
	schema *jsonschema.Schema
}

// NewEpisodeInputValidator compiles the Episode input schema.
func NewEpisodeInputValidator() (*EpisodeInputValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader([]byte(episodeInputSchema)))
	if err != nil {
		return nil, fmt.Errorf("validate: decode schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(episodeInputSchemaResource, doc); err != nil {
		return nil, fmt.Errorf("validate: add schema resource: %w", err)
	}
	sch, err := c.Compile(episodeInputSchemaResource)
	if err != nil {
		return nil, fmt.Errorf("validate: compile schema: %w", err)
	}
	return &EpisodeInputValidator{schema: sch}, nil
}

// Validate decodes raw (an add_episode request body as JSON) and checks it against the
// Episode input schema, returning an *errs.ValidationError describing
// the first failure when it does not conform.
func (v *EpisodeInputValidator) Validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errs.NewValidationError("body", fmt.Sprintf("not valid JSON: %v", err))
	}
	if err := v.schema.Validate(doc); err != nil {
		return errs.NewValidationError("body", err.Error())
	}
	return nil
}
