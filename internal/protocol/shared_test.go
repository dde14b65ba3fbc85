package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithGeneratedIDs_OnlyFillsMissingIDs(t *testing.T) {
	parts := []Part{
		{Type: "text", Text: "hi"},
		{Type: "tool-call", ToolCall: &ToolCall{ToolName: "a"}},
		{Type: "tool-call", ToolCall: &ToolCall{ID: "existing", ToolName: "b"}},
	}

	out := withGeneratedIDs(parts)

	assert.NotEmpty(t, out[1].ToolCall.ID)
	assert.Equal(t, "existing", out[2].ToolCall.ID)
}

func TestIndexSchemas(t *testing.T) {
	tools := []ToolDescriptor{weatherTool(), {Name: "no_schema"}}
	m := indexSchemas(tools)

	assert.NotNil(t, m["get_weather"])
	assert.Nil(t, m["no_schema"])
	assert.Len(t, m, 2)
}

func TestRelaxJSON_StripsTrailingCommaOnly(t *testing.T) {
	assert.Equal(t, `{"a":1}`, relaxJSON(`  {"a":1,}  `))
}

func TestRelaxJSON_ToleratesSingleQuotedStrings(t *testing.T) {
	assert.Equal(t, `{"city": "Oslo"}`, relaxJSON(`{'city': 'Oslo'}`))
}

func TestRelaxJSON_ToleratesLineAndBlockComments(t *testing.T) {
	got := relaxJSON("{\n  // the city to check\n  \"city\": \"Oslo\" /* trailing note */\n}")
	assert.Equal(t, "{\n  \n  \"city\": \"Oslo\" \n}", got)
}

func TestRelaxJSON_LeavesWellFormedDoubleQuotedStringsAlone(t *testing.T) {
	assert.Equal(t, `{"note":"it's fine // not a comment"}`, relaxJSON(`{"note":"it's fine // not a comment"}`))
}

func TestRelaxJSON_CombinesRelaxationsWithTrailingComma(t *testing.T) {
	assert.Equal(t, `{"city": "Oslo", "units": "metric"}`, relaxJSON(`{'city': 'Oslo', 'units': 'metric',}`))
}
