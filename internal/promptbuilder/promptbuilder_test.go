package promptbuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

func weatherTool() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{Name: "get_weather"}
}

func TestBuild_NoToolsReturnsMessagesUnchanged(t *testing.T) {
	messages := []protocol.Message{{Role: "user", Content: "hi"}}
	out := Build(messages, nil, protocol.NewHermes())
	assert.Equal(t, messages, out)
}

func TestBuild_InjectsSystemMessageWhenNoneExists(t *testing.T) {
	messages := []protocol.Message{{Role: "user", Content: "what's the weather"}}
	out := Build(messages, []protocol.ToolDescriptor{weatherTool()}, protocol.NewHermes())

	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Contains(t, out[0].Content, "get_weather")
	assert.Equal(t, "user", out[1].Role)
}

func TestBuild_AppendsToExistingSystemMessage(t *testing.T) {
	messages := []protocol.Message{
		{Role: "system", Content: "You are a helpful assistant."},
		{Role: "user", Content: "hi"},
	}
	out := Build(messages, []protocol.ToolDescriptor{weatherTool()}, protocol.NewHermes())

	require.Len(t, out, 2)
	assert.Contains(t, out[0].Content, "You are a helpful assistant.")
	assert.Contains(t, out[0].Content, "get_weather")
}

func TestBuild_ToolResponseAfterAssistantBecomesNewUserTurn(t *testing.T) {
	messages := []protocol.Message{
		{Role: "system", Content: "sys"},
		{Role: "user", Content: "what's the weather in Oslo?"},
		{Role: "assistant", Content: "checking..."},
		{Role: "tool", ToolCallID: "call_1", ToolName: "get_weather", Content: `{"temp": 5}`},
	}
	out := Build(messages, []protocol.ToolDescriptor{weatherTool()}, protocol.NewHermes())

	last := out[len(out)-1]
	assert.Equal(t, "user", last.Role)

	// no preceding "user" message directly before the tool response, so a new
	// synthetic user turn should have been appended carrying the rendered text.
	var sawSyntheticUser bool
	for _, m := range out {
		if m.Role == "user" && m.Content != "what's the weather in Oslo?" {
			sawSyntheticUser = true
		}
	}
	assert.True(t, sawSyntheticUser)
}

func TestBuild_FoldsToolResponseOntoDirectlyPrecedingUserMessage(t *testing.T) {
	messages := []protocol.Message{
		{Role: "user", Content: "what's the weather?"},
		{Role: "tool", ToolCallID: "call_1", ToolName: "get_weather", Content: `{"temp": 5}`},
	}
	out := Build(messages, []protocol.ToolDescriptor{weatherTool()}, protocol.NewHermes())

	require.Len(t, out, 2)
	assert.Equal(t, "user", out[1].Role)
	assert.Contains(t, out[1].Content, "what's the weather?")
	assert.Contains(t, out[1].Content, "temp")
}

func TestReplayToolCall_DelegatesToProtocolFormatter(t *testing.T) {
	proto := protocol.NewHermes()
	call := protocol.ToolCall{ID: "call_1", ToolName: "get_weather", Arguments: map[string]any{"city": "Oslo"}}

	rendered := ReplayToolCall(call, proto)
	assert.Contains(t, rendered, "get_weather")
	assert.Contains(t, rendered, "Oslo")
}

func TestJoinText_JoinsWithBlankLine(t *testing.T) {
	assert.Equal(t, "a\n\nb", JoinText("a", "b"))
	assert.Equal(t, "only", JoinText("only"))
}
