package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
	"github.com/mihaisavezi/toolcall-bridge/internal/streamparser"
)

// hermesVariant distinguishes the two JSON-in-tag surface syntaxes that
// share one payload format: Hermes wraps calls in <tool_call>...</tool_call>
// and Gemma wraps them in a ```tool_call fenced code block.
type hermesVariant struct {
	name  string
	open  string
	close string
}

var hermesSentinel = hermesVariant{name: "hermes", open: "<tool_call>", close: "</tool_call>"}
var gemmaSentinel = hermesVariant{name: "gemma", open: "```tool_call\n", close: "\n```"}

// NewHermes returns the Hermes JSON-in-tag protocol
// (<tool_call>{"name":...,"arguments":{...}}</tool_call>).
func NewHermes() Protocol {
	return &jsonInTagProtocol{variant: hermesSentinel}
}

// NewGemma returns the Gemma JSON-in-tag protocol, which shares Hermes's
// payload grammar but fences calls in a ```tool_call code block instead of
// an XML-style tag.
func NewGemma() Protocol {
	return &jsonInTagProtocol{variant: gemmaSentinel}
}

type jsonInTagProtocol struct {
	variant hermesVariant
}

func (p *jsonInTagProtocol) Name() string { return p.variant.name }

func (p *jsonInTagProtocol) FormatTools(tools []ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, respond with:\n")
	b.WriteString(p.variant.open)
	b.WriteString(`{"name": "<tool name>", "arguments": {<json arguments>}}`)
	b.WriteString(p.variant.close)
	b.WriteString("\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- " + t.Name)
		if t.Description != "" {
			b.WriteString(": " + t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *jsonInTagProtocol) FormatToolCall(call ToolCall) string {
	payload, _ := json.Marshal(map[string]any{"name": call.ToolName, "arguments": call.Arguments})
	return p.variant.open + string(payload) + p.variant.close
}

func (p *jsonInTagProtocol) FormatToolResponse(msg Message) string {
	return fmt.Sprintf("<tool_response name=%q>%s</tool_response>", msg.ToolName, msg.Content)
}

func (p *jsonInTagProtocol) ParseGeneratedText(text string, tools []ToolDescriptor) []Part {
	schemas := indexSchemas(tools)

	var parts []Part
	remaining := text

	for {
		openIdx := strings.Index(remaining, p.variant.open)
		if openIdx == -1 {
			if remaining != "" {
				parts = append(parts, Part{Type: "text", Text: remaining})
			}
			break
		}

		if openIdx > 0 {
			parts = append(parts, Part{Type: "text", Text: remaining[:openIdx]})
		}

		rest := remaining[openIdx+len(p.variant.open):]
		closeIdx := strings.Index(rest, p.variant.close)
		if closeIdx == -1 {
			// Unterminated: treat the rest (including the open sentinel)
			// as trailing text. (The streaming Session.Finish differs: it
			// parses an unterminated payload into a tool call when it can.)
			parts = append(parts, Part{Type: "text", Text: p.variant.open + rest})
			break
		}

		payload := rest[:closeIdx]
		remaining = rest[closeIdx+len(p.variant.close):]

		name, args, err := parseHermesPayload(payload, schemas)
		if err != nil {
			parts = append(parts, Part{Type: "text", Text: p.variant.open + payload + p.variant.close})
			continue
		}

		parts = append(parts, Part{Type: "tool-call", ToolCall: &ToolCall{ToolName: name, Arguments: args}})
	}

	return withGeneratedIDs(parts)
}

func (p *jsonInTagProtocol) CreateStreamParser(tools []ToolDescriptor) StreamParser {
	schemas := indexSchemas(tools)

	cfg := streamparser.Config{
		Sentinels: []streamparser.Sentinel{{Open: p.variant.open, Close: p.variant.close}},
		ParsePayload: func(_, raw string) (string, map[string]any, error) {
			return parseHermesPayload(raw, schemas)
		},
	}

	return &sessionAdapter{session: streamparser.New(cfg)}
}

// parseHermesPayload parses the relaxed-JSON object
// {"name": "...", "arguments": {...}} shared by Hermes and Gemma, then
// coerces arguments against the named tool's schema if known.
func parseHermesPayload(raw string, schemas map[string]*schemacoerce.Schema) (string, map[string]any, error) {
	relaxed := relaxJSON(raw)

	var obj map[string]any
	if err := json.Unmarshal([]byte(relaxed), &obj); err != nil {
		return "", nil, fmt.Errorf("protocol: invalid tool_call JSON: %w", err)
	}

	name, _ := obj["name"].(string)
	if name == "" {
		return "", nil, fmt.Errorf("protocol: tool_call JSON missing \"name\"")
	}

	args, _ := obj["arguments"].(map[string]any)
	if args == nil {
		args = map[string]any{}
	}

	if schema := schemas[name]; schema != nil {
		if coerced, ok := schemacoerce.Coerce(args, schema).(map[string]any); ok {
			args = coerced
		}
	}

	return name, args, nil
}
