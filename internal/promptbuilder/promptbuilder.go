// Package promptbuilder assembles the prompt sent to a text-only model so
// it emits tool calls in the active protocol's in-band syntax, and replays
// prior assistant tool calls / tool results back into the conversation in
// that same syntax on subsequent turns (spec.md C10).
//
// Grounded on the teacher's internal/providers/base.go TransformTools (tool
// schema shape conversion for a target wire format) generalized from
// "convert between two native tool-calling wire formats" to "render tool
// defs into an in-band textual protocol", and on handlers/proxy.go's
// transformTools/transformMessages call shape.
package promptbuilder

import (
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

// Build rewrites messages so that:
//  1. A system message describing the available tools (per proto) is
//     injected or appended to an existing system message.
//  2. Assistant and user messages are passed through unchanged (prior
//     assistant tool calls are expected to have been rendered as text
//     already, e.g. with ReplayToolCall).
//  3. Any prior tool-response message is rewritten into the protocol's
//     textual tool-response syntax and appended, after a newline, to the
//     directly preceding user message; if the preceding message is not a
//     user message, it becomes a new user message instead, since text-only
//     models have no separate "tool" role.
func Build(messages []protocol.Message, tools []protocol.ToolDescriptor, proto protocol.Protocol) []protocol.Message {
	if len(tools) == 0 {
		return messages
	}

	toolPrompt := proto.FormatTools(tools)

	out := make([]protocol.Message, 0, len(messages)+1)

	injected := false
	for _, m := range messages {
		switch m.Role {
		case "system":
			m.Content = m.Content + "\n\n" + toolPrompt
			injected = true
			out = append(out, m)

		case "tool":
			text := proto.FormatToolResponse(m)
			if len(out) > 0 && out[len(out)-1].Role == "user" {
				out[len(out)-1].Content = out[len(out)-1].Content + "\n" + text
				continue
			}
			out = append(out, protocol.Message{Role: "user", Content: text})

		default:
			out = append(out, m)
		}
	}

	if !injected {
		out = append([]protocol.Message{{Role: "system", Content: toolPrompt}}, out...)
	}

	return out
}

// ReplayToolCall renders a tool call the way the active protocol expects it
// to appear in an assistant message's text, for multi-turn prompt
// construction.
func ReplayToolCall(call protocol.ToolCall, proto protocol.Protocol) string {
	return proto.FormatToolCall(call)
}

// JoinText concatenates a sequence of content fragments with a single blank
// line. Build does not use it: it folds tool responses with a single
// newline.
func JoinText(parts ...string) string {
	return strings.Join(parts, "\n\n")
}
