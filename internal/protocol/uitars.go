package protocol

import (
	"fmt"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
	"github.com/mihaisavezi/toolcall-bridge/internal/streamparser"
)

// uiTARS is the UI-TARS protocol: calls are wrapped in <tool_call>...
// </tool_call>, with a payload grammar of
// <function=NAME><parameter=KEY>value</parameter>...</function> — a
// non-well-formed-XML tag syntax (the "=" inside the tag name position)
// that needs regexp2, not internal/rxml, to recover.
type uiTARS struct{}

// NewUITARS returns the UI-TARS protocol.
func NewUITARS() Protocol { return &uiTARS{} }

const uiTARSOpen = "<tool_call>"
const uiTARSClose = "</tool_call>"

var functionRe = regexp2.MustCompile(`(?s)<function=([^>]+)>(.*?)</function>`, 0)
var parameterRe = regexp2.MustCompile(`(?s)<parameter=([^>]+)>(.*?)</parameter>`, 0)

func (p *uiTARS) Name() string { return "ui-tars" }

func (p *uiTARS) FormatTools(tools []ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, respond with:\n")
	b.WriteString(uiTARSOpen + "<function=tool_name><parameter=arg_name>value</parameter></function>" + uiTARSClose)
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

func (p *uiTARS) FormatToolCall(call ToolCall) string {
	var b strings.Builder
	b.WriteString(uiTARSOpen)
	b.WriteString("<function=" + call.ToolName + ">")
	for k, v := range call.Arguments {
		b.WriteString(fmt.Sprintf("<parameter=%s>%v</parameter>", k, v))
	}
	b.WriteString("</function>")
	b.WriteString(uiTARSClose)
	return b.String()
}

func (p *uiTARS) FormatToolResponse(msg Message) string {
	return fmt.Sprintf("<tool_response name=%q>%s</tool_response>", msg.ToolName, msg.Content)
}

func (p *uiTARS) ParseGeneratedText(text string, tools []ToolDescriptor) []Part {
	schemas := indexSchemas(tools)

	var parts []Part
	remaining := text

	for {
		openIdx := strings.Index(remaining, uiTARSOpen)
		if openIdx == -1 {
			if remaining != "" {
				parts = append(parts, Part{Type: "text", Text: remaining})
			}
			break
		}

		if openIdx > 0 {
			parts = append(parts, Part{Type: "text", Text: remaining[:openIdx]})
		}

		rest := remaining[openIdx+len(uiTARSOpen):]
		closeIdx := strings.Index(rest, uiTARSClose)
		if closeIdx == -1 {
			parts = append(parts, Part{Type: "text", Text: uiTARSOpen + rest})
			break
		}

		payload := rest[:closeIdx]
		remaining = rest[closeIdx+len(uiTARSClose):]

		name, args, err := parseUITARSPayload(payload, schemas)
		if err != nil {
			parts = append(parts, Part{Type: "text", Text: uiTARSOpen + payload + uiTARSClose})
			continue
		}

		parts = append(parts, Part{Type: "tool-call", ToolCall: &ToolCall{ToolName: name, Arguments: args}})
	}

	return withGeneratedIDs(parts)
}

func (p *uiTARS) CreateStreamParser(tools []ToolDescriptor) StreamParser {
	schemas := indexSchemas(tools)

	cfg := streamparser.Config{
		Sentinels: []streamparser.Sentinel{{Open: uiTARSOpen, Close: uiTARSClose}},
		ParsePayload: func(_, raw string) (string, map[string]any, error) {
			return parseUITARSPayload(raw, schemas)
		},
		PartialName: func(partial string) (string, bool) {
			m, err := functionRe.FindStringMatch(partial)
			if err != nil || m == nil {
				return "", false
			}
			return strings.TrimSpace(m.Groups()[1].String()), true
		},
	}

	return &sessionAdapter{session: streamparser.New(cfg)}
}

// parseUITARSPayload parses a <function=NAME><parameter=KEY>value
// </parameter>...</function> body. A repeated <parameter=KEY> with the same
// name forms an array (spec.md §4.9), so occurrences are collected per key,
// preserving first-seen key order, before a single occurrence is coerced as
// a scalar and repeats are coerced as a slice.
func parseUITARSPayload(payload string, schemas map[string]*schemacoerce.Schema) (string, map[string]any, error) {
	fm, err := functionRe.FindStringMatch(payload)
	if err != nil || fm == nil {
		return "", nil, fmt.Errorf("protocol: no <function=...> block found")
	}

	name := strings.TrimSpace(fm.Groups()[1].String())
	body := fm.Groups()[2].String()

	schema := schemas[name]

	var order []string
	values := map[string][]string{}

	m, err := parameterRe.FindStringMatch(body)
	for err == nil && m != nil {
		key := strings.TrimSpace(m.Groups()[1].String())
		val := m.Groups()[2].String()

		if _, seen := values[key]; !seen {
			order = append(order, key)
		}
		values[key] = append(values[key], val)

		m, err = parameterRe.FindNextMatch(m)
	}

	args := map[string]any{}
	for _, key := range order {
		occurrences := values[key]

		var prop *schemacoerce.Schema
		if schema != nil {
			prop = schema.Property(key)
		}

		if len(occurrences) == 1 {
			args[key] = schemacoerce.Coerce(occurrences[0], prop)
			continue
		}

		vals := make([]any, len(occurrences))
		for i, v := range occurrences {
			vals[i] = v
		}
		args[key] = schemacoerce.Coerce(vals, prop)
	}

	return name, args, nil
}
