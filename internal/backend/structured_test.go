package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_Tolerance(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"bare", `{"action":"confirm","reason":"r"}`},
		{"fenced", "```json\n{\"action\":\"confirm\",\"reason\":\"r\"}\n```"},
		{"prose", `Sure! Here is my answer: {"action":"confirm","reason":"r"} Hope that helps.`},
		{"comments", "{\n\"action\":\"confirm\", // chosen\n\"reason\":\"r\"\n}"},
		{"first object wins", `{"action":"confirm","reason":"r"} {"action":"reject"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON[DecisionResult](tt.raw, decisionSchema)
			require.NoError(t, err)
			assert.Equal(t, "confirm", got.Action)
			assert.Equal(t, "r", got.Reason)
		})
	}
}

func TestExtractJSON_NestedBracesInStrings(t *testing.T) {
	got, err := ExtractJSON[DecisionResult](`{"action":"reject","reason":"contains } and { and \"quotes\""}`, decisionSchema)
	require.NoError(t, err)
	assert.Equal(t, `contains } and { and "quotes"`, got.Reason)
}

func TestExtractJSON_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", "   "},
		{"no object", "I cannot help with that."},
		{"unbalanced", `{"action":"confirm"`},
		{"schema enum", `{"action":"maybe"}`},
		{"schema required", `{"reason":"no action"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractJSON[DecisionResult](tt.raw, decisionSchema)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidOutput), "got %v", err)
		})
	}
}

func TestExtractJSON_ConsequenceSchema(t *testing.T) {
	_, err := ExtractJSON[ConsequenceResult](`{"consequences":[{"type":"data_loss","severity":"extreme","reversibility":"irreversible"}]}`, consequenceSchema)
	assert.ErrorIs(t, err, ErrInvalidOutput)

	got, err := ExtractJSON[ConsequenceResult](`{"consequences":[{"type":"data_loss","severity":"high","reversibility":"irreversible","description":"d"}]}`, consequenceSchema)
	require.NoError(t, err)
	require.Len(t, got.Consequences, 1)
	assert.Equal(t, "high", got.Consequences[0].Severity)
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema("bad.json", `{"type": 12`)
	assert.Error(t, err)
}
