// Package structured turns a model reply into a typed value. The model is
// prompted with a JSON shape; its reply is stripped of markdown fences,
// validated against a JSON Schema and decoded.
package structured

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSON is returned when the reply holds no JSON object.
var ErrNoJSON = errors.New("structured: no JSON object in model output")

// ErrInvalid is returned when the JSON does not satisfy the schema.
var ErrInvalid = errors.New("structured: output does not match schema")

// Schema is a JSON Schema document expressed as Go values.
type Schema map[string]any

// String renders the schema as indented JSON for inclusion in a prompt.
func (s Schema) String() string {
	b, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// ExtractJSON returns the outermost JSON object in raw, with any markdown
// code fences removed.
func ExtractJSON(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```JSON")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// Validate checks doc against schema.
func Validate(schema Schema, doc []byte) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("structured: schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(details, "; "))
}

// Decode extracts, validates and unmarshals the model reply into out.
func Decode(raw string, schema Schema, out any) error {
	doc, err := ExtractJSON(raw)
	if err != nil {
		return err
	}
	if err := Validate(schema, []byte(doc)); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(doc), out); err != nil {
		return fmt.Errorf("structured: failed to unmarshal output: %w", err)
	}
	return nil
}
