package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
)

func weatherTool() ToolDescriptor {
	return ToolDescriptor{
		Name: "get_weather",
		Schema: schemacoerce.New(map[string]any{
			"type":       "object",
			"properties": map[string]any{"city": map[string]any{"type": "string"}},
		}),
	}
}

func TestHermes_ParseGeneratedText_TextAroundToolCall(t *testing.T) {
	proto := NewHermes()
	text := `Let me check that.
<tool_call>{"name": "get_weather", "arguments": {"city": "Berlin"}}</tool_call>
Done.`

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 3)

	assert.Equal(t, "text", parts[0].Type)
	assert.Contains(t, parts[0].Text, "Let me check")

	assert.Equal(t, "tool-call", parts[1].Type)
	require.NotNil(t, parts[1].ToolCall)
	assert.Equal(t, "get_weather", parts[1].ToolCall.ToolName)
	assert.Equal(t, "Berlin", parts[1].ToolCall.Arguments["city"])
	assert.NotEmpty(t, parts[1].ToolCall.ID)

	assert.Equal(t, "text", parts[2].Type)
	assert.Contains(t, parts[2].Text, "Done.")
}

func TestHermes_ParseGeneratedText_MalformedJSONFallsBackToText(t *testing.T) {
	proto := NewHermes()
	text := `<tool_call>{"name": "get_weather", "arguments": {city: Berlin}}</tool_call>`

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "text", parts[0].Type)
	assert.Contains(t, parts[0].Text, "<tool_call>")
}

func TestHermes_ParseGeneratedText_UnterminatedTagIsText(t *testing.T) {
	proto := NewHermes()
	text := `<tool_call>{"name": "get_weather"`

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "text", parts[0].Type)
}

func TestHermes_FormatToolCall_RoundTrips(t *testing.T) {
	proto := NewHermes()
	rendered := proto.FormatToolCall(ToolCall{ToolName: "get_weather", Arguments: map[string]any{"city": "Paris"}})

	parts := proto.ParseGeneratedText(rendered, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "tool-call", parts[0].Type)
	assert.Equal(t, "Paris", parts[0].ToolCall.Arguments["city"])
}

func TestGemma_UsesCodeFenceSentinel(t *testing.T) {
	proto := NewGemma()
	rendered := proto.FormatToolCall(ToolCall{ToolName: "get_weather", Arguments: map[string]any{"city": "Rome"}})
	assert.Contains(t, rendered, "```tool_call")

	parts := proto.ParseGeneratedText(rendered, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "tool-call", parts[0].Type)
	assert.Equal(t, "Rome", parts[0].ToolCall.Arguments["city"])
}

func TestStripTrailingCommas(t *testing.T) {
	assert.Equal(t, `{"a":1}`, stripTrailingCommas(`{"a":1,}`))
	assert.Equal(t, `["a","b"]`, stripTrailingCommas(`["a","b",]`))
	assert.Equal(t, `{"a":"x,y"}`, stripTrailingCommas(`{"a":"x,y"}`))
}
