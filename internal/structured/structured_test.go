package structured

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pointSchema = Schema{
	"type": "object",
	"properties": map[string]any{
		"x": map[string]any{"type": "integer"},
		"y": map[string]any{"type": "integer"},
	},
	"required": []string{"x", "y"},
}

type point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

func TestExtractJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"x":1}`, `{"x":1}`},
		{"fenced json", "```json\n{\"x\":1}\n```", `{"x":1}`},
		{"fenced plain", "```\n{\"x\":1}\n```", `{"x":1}`},
		{"prose around", "Here is the log:\n{\"x\":1}\nHope this helps.", `{"x":1}`},
		{"nested", `{"a":{"b":2}}`, `{"a":{"b":2}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ExtractJSON(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExtractJSON_None(t *testing.T) {
	t.Parallel()
	_, err := ExtractJSON("I could not understand the notes.")
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestDecode(t *testing.T) {
	t.Parallel()

	var p point
	require.NoError(t, Decode("```json\n{\"x\": 3, \"y\": 4}\n```", pointSchema, &p))
	assert.Equal(t, point{X: 3, Y: 4}, p)
}

func TestDecode_SchemaViolation(t *testing.T) {
	t.Parallel()

	var p point
	err := Decode(`{"x": "three"}`, pointSchema, &p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "y")
}

func TestSchemaString(t *testing.T) {
	t.Parallel()
	assert.Contains(t, pointSchema.String(), `"required"`)
}
