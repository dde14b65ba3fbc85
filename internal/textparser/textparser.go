// Package textparser implements the non-streaming parse kernel (spec.md
// C7): parsing a complete generation in one pass, including a recovery path
// for generations that contain a plausible tool call without using the
// active protocol's own sentinel syntax (e.g. a model emitting a bare JSON
// object when asked for a Hermes <tool_call> tag).
//
// The recovery path's "try several candidate shapes over the whole text in
// sequence" structure is grounded on
// other_examples/86f4c344_..._tools-parser.go.go's Parser.Parse, which
// tries multiple ParseFormats over a shrinking remaining string.
package textparser

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/idgen"
	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

// Parse runs proto's own ParseGeneratedText, then — only if that produced
// no tool-call parts at all — attempts the no-sentinel recovery path: a
// bare JSON object with "name"/"arguments" keys, optionally fenced in a
// ```json code block, matched against the registered tool names.
func Parse(text string, tools []protocol.ToolDescriptor, proto protocol.Protocol) []protocol.Part {
	parts := proto.ParseGeneratedText(text, tools)

	for _, p := range parts {
		if p.Type == "tool-call" {
			return parts
		}
	}

	if call, ok := recoverBareCall(text, tools); ok {
		call.ID = idgen.ToolCallID()
		return []protocol.Part{{Type: "tool-call", ToolCall: call}}
	}

	return parts
}

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
var bareJSONRe = regexp.MustCompile(`(?s)\{[^{}]*"name"\s*:\s*"([^"]+)"[^{}]*\}`)

// recoverBareCall looks for a JSON object naming one of the known tools
// anywhere in text, independent of any protocol sentinel syntax, as a last
// resort before giving up and treating the whole generation as plain text.
func recoverBareCall(text string, tools []protocol.ToolDescriptor) (*protocol.ToolCall, bool) {
	known := map[string]bool{}
	for _, t := range tools {
		known[t.Name] = true
	}

	candidates := []string{}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := bareJSONRe.FindString(text); m != "" {
		candidates = append(candidates, m)
	}
	// bareJSONRe cannot match an object with nested braces (such as a
	// non-empty "arguments" object), so also decode one complete JSON value
	// starting at the first '{'.
	if i := strings.IndexByte(text, '{'); i != -1 {
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw); err == nil {
			candidates = append(candidates, string(raw))
		}
	}

	for _, c := range candidates {
		var obj map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(c)), &obj); err != nil {
			continue
		}
		name, _ := obj["name"].(string)
		if !known[name] {
			continue
		}
		args, _ := obj["arguments"].(map[string]any)
		if args == nil {
			args, _ = obj["params"].(map[string]any)
		}
		if args == nil {
			args = map[string]any{}
		}
		return &protocol.ToolCall{ToolName: name, Arguments: args}, true
	}

	return nil, false
}
