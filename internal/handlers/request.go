package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/mihaisavezi/toolcall-bridge/internal/idgen"
	"github.com/mihaisavezi/toolcall-bridge/internal/promptbuilder"
	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
	"github.com/mihaisavezi/toolcall-bridge/internal/toolschema"
)

// anthropicContentBlock is one element of an incoming Messages-API content
// array — text, a replayed tool_use, or a tool_result.
type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type anthropicMessageIn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type anthropicToolIn struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicToolChoiceIn struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// incomingRequest is the client-facing request body this proxy accepts:
// an Anthropic Messages-API-shaped call naming tools the upstream
// text-only model cannot natively invoke.
type incomingRequest struct {
	Model      string                 `json:"model"`
	System     string                 `json:"system"`
	Messages   []anthropicMessageIn   `json:"messages"`
	Tools      []anthropicToolIn      `json:"tools"`
	ToolChoice *anthropicToolChoiceIn `json:"tool_choice"`
	Stream     bool                   `json:"stream"`
}

func parseIncomingRequest(body []byte) (*incomingRequest, error) {
	var req incomingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, fmt.Errorf("unmarshal request body: %w", err)
	}
	return &req, nil
}

// staticToolRegistry implements middleware.ToolRegistry over the tools
// declared in a single request.
type staticToolRegistry struct {
	tools []protocol.ToolDescriptor
}

func (r staticToolRegistry) Tools() []protocol.ToolDescriptor { return r.tools }

func buildToolRegistry(in []anthropicToolIn) (staticToolRegistry, error) {
	descs := make([]protocol.ToolDescriptor, 0, len(in))
	for _, t := range in {
		compiled, err := toolschema.Compile(t.Name, t.InputSchema)
		if err != nil {
			return staticToolRegistry{}, fmt.Errorf("compile schema for tool %q: %w", t.Name, err)
		}
		var schema *schemacoerce.Schema
		if compiled != nil {
			schema = compiled.Schema()
		}
		descs = append(descs, protocol.ToolDescriptor{Name: t.Name, Description: t.Description, Schema: schema})
	}
	return staticToolRegistry{tools: descs}, nil
}

// toolChoiceFromRequest translates the Messages-API tool_choice shape into
// middleware.ToolChoice, implementing spec.md §4.9's forced-tool behavior.
func toolChoiceFromRequest(in *anthropicToolChoiceIn) (forced bool, toolName string) {
	if in == nil {
		return false, ""
	}
	if in.Type == "tool" && in.Name != "" {
		return true, in.Name
	}
	return false, ""
}

// buildMessages flattens the incoming Anthropic-shaped conversation into
// the flat protocol.Message list promptbuilder.Build expects: system
// message first, prior tool_use blocks replayed in the active protocol's
// own textual syntax, and tool_result blocks folded into "tool"-role
// messages for promptbuilder to re-fold into the surrounding user turn.
func buildMessages(req *incomingRequest, proto protocol.Protocol) ([]protocol.Message, error) {
	var out []protocol.Message

	if req.System != "" {
		out = append(out, protocol.Message{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		text, asString := decodeStringContent(m.Content)
		if asString {
			out = append(out, protocol.Message{Role: m.Role, Content: text})
			continue
		}

		var blocks []anthropicContentBlock
		if err := json.Unmarshal(m.Content, &blocks); err != nil {
			return nil, fmt.Errorf("unmarshal content blocks for role %q: %w", m.Role, err)
		}

		var buf string
		for _, b := range blocks {
			switch b.Type {
			case "text":
				buf += b.Text

			case "tool_use":
				var args map[string]any
				_ = json.Unmarshal(b.Input, &args)
				call := protocol.ToolCall{ID: b.ID, ToolName: b.Name, Arguments: args}
				if call.ID == "" {
					call.ID = idgen.ToolCallID()
				}
				buf += promptbuilder.ReplayToolCall(call, proto)

			case "tool_result":
				content, _ := decodeStringContent(b.Content)
				if content == "" && len(b.Content) > 0 {
					content = string(b.Content)
				}
				out = append(out, protocol.Message{Role: "tool", ToolCallID: b.ToolUseID, Content: content})
			}
		}

		if buf != "" {
			out = append(out, protocol.Message{Role: m.Role, Content: buf})
		}
	}

	return out, nil
}

func decodeStringContent(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	return "", false
}
