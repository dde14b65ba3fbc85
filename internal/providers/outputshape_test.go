package providers

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

type bufWriter struct {
	bytes.Buffer
	flushes int
}

func (b *bufWriter) Flush() { b.flushes++ }

func TestToAnthropicMessage_TextAndToolCall(t *testing.T) {
	parts := []protocol.Part{
		{Type: "text", Text: "let me check that"},
		{Type: "tool-call", ToolCall: &protocol.ToolCall{ID: "call_1", ToolName: "get_weather", Arguments: map[string]any{"city": "Cluj"}}},
	}

	msg := ToAnthropicMessage("msg_1", "upstream-model", parts)

	require.Len(t, msg.Content, 2)
	assert.Equal(t, ContentTypeText, msg.Content[0].Type)
	assert.Equal(t, ContentTypeToolUse, msg.Content[1].Type)
	assert.Equal(t, "get_weather", msg.Content[1].Name)
	assert.Equal(t, StopReasonToolUse, msg.StopReason)
}

func TestToAnthropicMessage_TextOnly(t *testing.T) {
	parts := []protocol.Part{{Type: "text", Text: "hello"}}

	msg := ToAnthropicMessage("msg_2", "upstream-model", parts)

	require.Len(t, msg.Content, 1)
	assert.Equal(t, StopReasonEndTurn, msg.StopReason)
}

func TestStreamAnthropicEvents_TextThenToolCall(t *testing.T) {
	events := make(chan protocol.StreamEvent, 8)
	events <- protocol.StreamEvent{Type: "text-delta", TextDelta: "checking"}
	events <- protocol.StreamEvent{Type: "tool-input-start", ToolCallID: "call_1", ToolName: "get_weather"}
	events <- protocol.StreamEvent{Type: "tool-input-delta", ToolCallID: "call_1", InputDelta: `{"city":`}
	events <- protocol.StreamEvent{Type: "tool-input-delta", ToolCallID: "call_1", InputDelta: `"Cluj"}`}
	events <- protocol.StreamEvent{Type: "tool-input-end", ToolCallID: "call_1"}
	close(events)

	w := &bufWriter{}
	err := StreamAnthropicEvents(w, "msg_3", "upstream-model", events)
	require.NoError(t, err)

	out := w.String()
	assert.Contains(t, out, "event: message_start")
	assert.Contains(t, out, "event: content_block_delta")
	assert.Contains(t, out, "input_json_delta")
	assert.Contains(t, out, `"stop_reason":"tool_use"`)
	assert.True(t, strings.Contains(out, "event: message_stop"))
	assert.Greater(t, w.flushes, 0)
}

func TestStreamAnthropicEvents_TextOnlyEndsAtEndTurn(t *testing.T) {
	events := make(chan protocol.StreamEvent, 2)
	events <- protocol.StreamEvent{Type: "text-delta", TextDelta: "hi there"}
	close(events)

	w := &bufWriter{}
	err := StreamAnthropicEvents(w, "msg_4", "upstream-model", events)
	require.NoError(t, err)

	assert.Contains(t, w.String(), `"stop_reason":"end_turn"`)
}
