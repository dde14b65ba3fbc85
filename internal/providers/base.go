// Package providers exposes the middleware's output at an HTTP proxy
// boundary in the Anthropic Messages-API shape (a message body, or
// content_block_* SSE events); no OpenAI tool_calls output shape is
// implemented. This gives the otherwise protocol-agnostic
// middleware (internal/middleware, internal/protocol) a concrete "client
// sees native tool-calling" illusion (see SPEC_FULL.md §3's wire-format
// bridging supplement).
//
// Adapted from the teacher's internal/providers/base.go, trimmed to the
// constants and helpers that are still domain-neutral once this package no
// longer routes between five upstream wire formats — only bridges one
// upstream's parsed events outward.
package providers

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	RoleAssistant      = "assistant"
	ContentTypeText    = "text"
	ContentTypeToolUse = "tool_use"

	StopReasonEndTurn  = "end_turn"
	StopReasonToolUse  = "tool_use"
	StopReasonMaxToken = "max_tokens"

	ContentTypeEventStream = "text/event-stream"
)

// TokenMapping names the usage fields a wire format uses, so usage blocks
// can be translated without hardcoding every format's field names inline.
type TokenMapping struct {
	InputTokens  string
	OutputTokens string
}

var (
	OpenAITokenMapping    = TokenMapping{InputTokens: "prompt_tokens", OutputTokens: "completion_tokens"}
	AnthropicTokenMapping = TokenMapping{InputTokens: "input_tokens", OutputTokens: "output_tokens"}
)

// IsStreamingContentType reports whether contentType indicates an SSE body.
func IsStreamingContentType(contentType string) bool {
	return contentType == ContentTypeEventStream || strings.Contains(contentType, "stream")
}

// FormatSSEEvent formats data as one named Server-Sent Event.
func FormatSSEEvent(eventType string, data any) []byte {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return []byte("event: error\ndata: {\"error\":\"failed to marshal data\"}\n\n")
	}
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, string(jsonData)))
}

// MapTokenUsage translates a source-format usage map into Anthropic-style
// field names.
func MapTokenUsage(sourceUsage map[string]any, sourceMapping TokenMapping) map[string]any {
	usage := make(map[string]any)
	if v, ok := sourceUsage[sourceMapping.InputTokens]; ok {
		usage[AnthropicTokenMapping.InputTokens] = v
	}
	if v, ok := sourceUsage[sourceMapping.OutputTokens]; ok {
		usage[AnthropicTokenMapping.OutputTokens] = v
	}
	return usage
}

// CreateMessageStartEvent builds the Anthropic-style message_start payload.
func CreateMessageStartEvent(messageID, model string, usage map[string]any) map[string]any {
	return map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      messageID,
			"type":    "message",
			"role":    RoleAssistant,
			"content": []any{},
			"model":   model,
			"usage":   usage,
		},
	}
}
