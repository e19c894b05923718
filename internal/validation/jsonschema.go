package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/buffrsign/engine/pkg/schema"
)

// OutputValidator validates executor output maps against a node's declared
// output schema (JSON Schema Draft 2020-12). A schema violation is treated
// as a step failure by the engine. Safe for concurrent use.
type OutputValidator struct {
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewOutputValidator creates an OutputValidator with an empty schema cache.
func NewOutputValidator() *OutputValidator {
	return &OutputValidator{
		cache: make(map[string]*jsonschema.Schema),
	}
}

// Validate checks output against outputSchema. A nil/empty schema accepts
// any output.
func (v *OutputValidator) Validate(output map[string]any, outputSchema []byte) error {
	if len(outputSchema) == 0 {
		return nil
	}
	if output == nil {
		output = map[string]any{}
	}

	compiled, err := v.getOrCompile(outputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid output schema").WithCause(err)
	}

	doc, err := toJSONValue(output)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize output").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeOutputSchema,
			"output schema violation: %s", err.Error()).WithCause(err)
	}
	return nil
}

// RequiredFieldsSchema builds a minimal JSON Schema requiring the named
// top-level fields in an output map.
func RequiredFieldsSchema(fields ...string) json.RawMessage {
	doc := map[string]any{
		"$schema":  "https://json-schema.org/draft/2020-12/schema",
		"type":     "object",
		"required": fields,
	}
	b, _ := json.Marshal(doc)
	return b
}

func (v *OutputValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid compiler collisions.
	url := fmt.Sprintf("buffrsign://output-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
