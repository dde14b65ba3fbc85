package providers

import (
	"fmt"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

// AnthropicContentBlock is one element of an Anthropic Messages-API
// content array — either a text block or a tool_use block.
type AnthropicContentBlock struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

// AnthropicMessage is a complete non-streaming Messages-API response,
// assembled from the middleware's parsed protocol.Part slice.
type AnthropicMessage struct {
	ID         string                  `json:"id"`
	Type       string                  `json:"type"`
	Role       string                  `json:"role"`
	Model      string                  `json:"model"`
	Content    []AnthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
}

// ToAnthropicMessage renders the middleware's typed tool-call parts as a
// single Anthropic Messages-API response body, the shape a client wired for
// native tool-calling expects back — the non-streaming half of spec.md §3's
// wire-format bridging supplement. Grounded on the teacher's (now-removed)
// providers/openai.go ConvertToAnthropic, carried forward as the one
// fixed-shape target this package still bridges to since the middleware no
// longer varies by upstream provider.
func ToAnthropicMessage(messageID, model string, parts []protocol.Part) AnthropicMessage {
	msg := AnthropicMessage{
		ID:         messageID,
		Type:       "message",
		Role:       RoleAssistant,
		Model:      model,
		StopReason: StopReasonEndTurn,
	}

	for _, p := range parts {
		switch p.Type {
		case "text":
			if p.Text == "" {
				continue
			}
			msg.Content = append(msg.Content, AnthropicContentBlock{Type: ContentTypeText, Text: p.Text})
		case "tool-call":
			if p.ToolCall == nil {
				continue
			}
			msg.Content = append(msg.Content, AnthropicContentBlock{
				Type:  ContentTypeToolUse,
				ID:    p.ToolCall.ID,
				Name:  p.ToolCall.ToolName,
				Input: p.ToolCall.Arguments,
			})
			msg.StopReason = StopReasonToolUse
		}
	}

	return msg
}

// SSEWriter is the subset of http.ResponseWriter this package needs to
// stream events without importing net/http directly, keeping it testable
// against a plain bytes.Buffer.
type SSEWriter interface {
	Write(p []byte) (int, error)
	Flush()
}

// StreamAnthropicEvents consumes the middleware's protocol.StreamEvent
// channel and writes the equivalent Anthropic message_start /
// content_block_start / content_block_delta / content_block_stop /
// message_delta / message_stop SSE sequence to w — the streaming half of
// the wire-format bridge. Each tool call opens its own content block index;
// text deltas share a single leading text block opened lazily on first use.
func StreamAnthropicEvents(w SSEWriter, messageID, model string, events <-chan protocol.StreamEvent) error {
	w.Write(FormatSSEEvent("message_start", CreateMessageStartEvent(messageID, model, map[string]any{})))
	w.Flush()

	nextIndex := 0
	textIndex := -1
	toolIndex := make(map[string]int)
	sawToolCall := false

	openTextBlock := func() {
		if textIndex >= 0 {
			return
		}
		textIndex = nextIndex
		nextIndex++
		w.Write(FormatSSEEvent("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         textIndex,
			"content_block": map[string]any{"type": ContentTypeText, "text": ""},
		}))
	}

	for ev := range events {
		switch ev.Type {
		case "text-delta":
			openTextBlock()
			w.Write(FormatSSEEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": textIndex,
				"delta": map[string]any{"type": "text_delta", "text": ev.TextDelta},
			}))
		case "tool-input-start":
			sawToolCall = true
			idx := nextIndex
			nextIndex++
			toolIndex[ev.ToolCallID] = idx
			w.Write(FormatSSEEvent("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": idx,
				"content_block": map[string]any{
					"type":  ContentTypeToolUse,
					"id":    ev.ToolCallID,
					"name":  ev.ToolName,
					"input": map[string]any{},
				},
			}))
		case "tool-input-delta":
			idx, ok := toolIndex[ev.ToolCallID]
			if !ok {
				continue
			}
			w.Write(FormatSSEEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": idx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.InputDelta},
			}))
		case "tool-input-end":
			idx, ok := toolIndex[ev.ToolCallID]
			if !ok {
				continue
			}
			w.Write(FormatSSEEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": idx}))
		case "text-delta-error":
			openTextBlock()
			w.Write(FormatSSEEvent("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": textIndex,
				"delta": map[string]any{"type": "text_delta", "text": fmt.Sprintf("%s%s", ev.TextDelta, ev.ErrorMessage)},
			}))
		}
		w.Flush()
	}

	if textIndex >= 0 {
		w.Write(FormatSSEEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": textIndex}))
	}

	stopReason := StopReasonEndTurn
	if sawToolCall {
		stopReason = StopReasonToolUse
	}
	w.Write(FormatSSEEvent("message_delta", map[string]any{
		"type":  "message_delta",
		"delta": map[string]any{"stop_reason": stopReason},
	}))
	w.Write(FormatSSEEvent("message_stop", map[string]any{"type": "message_stop"}))
	w.Flush()

	return nil
}
