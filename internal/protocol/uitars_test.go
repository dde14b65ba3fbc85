package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
)

func TestUITARS_ParseGeneratedText_TextAroundToolCall(t *testing.T) {
	proto := NewUITARS()
	text := "Checking now.\n<tool_call><function=get_weather><parameter=city>Lagos</parameter></function></tool_call>\nDone."

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 3)

	assert.Equal(t, "text", parts[0].Type)
	assert.Equal(t, "tool-call", parts[1].Type)
	assert.Equal(t, "get_weather", parts[1].ToolCall.ToolName)
	assert.Equal(t, "Lagos", parts[1].ToolCall.Arguments["city"])
	assert.Equal(t, "text", parts[2].Type)
}

func TestUITARS_ParseGeneratedText_MultipleParameters(t *testing.T) {
	proto := NewUITARS()
	tool := ToolDescriptor{Name: "book_flight"}
	text := "<tool_call><function=book_flight><parameter=from>NYC</parameter><parameter=to>LAX</parameter></function></tool_call>"

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{tool})
	require.Len(t, parts, 1)
	assert.Equal(t, "NYC", parts[0].ToolCall.Arguments["from"])
	assert.Equal(t, "LAX", parts[0].ToolCall.Arguments["to"])
}

func TestUITARS_ParseGeneratedText_RepeatedParameterBecomesArray(t *testing.T) {
	proto := NewUITARS()
	tool := ToolDescriptor{
		Name: "set_tags",
		Schema: schemacoerce.New(map[string]any{
			"type": "object",
			"properties": map[string]any{
				"tag": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			},
		}),
	}
	text := "<tool_call><function=set_tags><parameter=tag>alpha</parameter><parameter=tag>beta</parameter></function></tool_call>"

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{tool})
	require.Len(t, parts, 1)
	require.Equal(t, "tool-call", parts[0].Type)
	assert.Equal(t, []any{"alpha", "beta"}, parts[0].ToolCall.Arguments["tag"])
}

func TestUITARS_ParseGeneratedText_NoFunctionBlockFallsBackToText(t *testing.T) {
	proto := NewUITARS()
	text := "<tool_call>not a function block</tool_call>"

	parts := proto.ParseGeneratedText(text, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "text", parts[0].Type)
}

func TestUITARS_FormatToolCall_RoundTrips(t *testing.T) {
	proto := NewUITARS()
	rendered := proto.FormatToolCall(ToolCall{ToolName: "get_weather", Arguments: map[string]any{"city": "Cairo"}})

	parts := proto.ParseGeneratedText(rendered, []ToolDescriptor{weatherTool()})
	require.Len(t, parts, 1)
	assert.Equal(t, "Cairo", parts[0].ToolCall.Arguments["city"])
}
