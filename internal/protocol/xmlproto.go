package protocol

import (
	"fmt"
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/rxml"
	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
	"github.com/mihaisavezi/toolcall-bridge/internal/streamparser"
)

// morphXML is the XML-element protocol: a tool call is a single element
// named after the tool itself, with one child element per argument, e.g.
// <get_weather><city>Berlin</city></get_weather>. There is no shared
// sentinel across tools — the tool name IS the sentinel — so the sentinel
// list is built fresh per call from the registered tool set.
type morphXML struct {
	throwOnDuplicateStringTags bool
}

// NewXMLElement returns the morph-XML protocol with spec.md §4.4's default
// duplicate-string-tag policy (throw).
func NewXMLElement() Protocol { return &morphXML{throwOnDuplicateStringTags: true} }

// NewXMLElementWithPolicy returns the morph-XML protocol with an explicit
// duplicate-string-tag policy, wired from config.CoercionPolicy's
// ThrowOnDuplicateStringTags.
func NewXMLElementWithPolicy(throwOnDuplicateStringTags bool) Protocol {
	return &morphXML{throwOnDuplicateStringTags: throwOnDuplicateStringTags}
}

func (p *morphXML) Name() string { return "xml-element" }

func (p *morphXML) FormatTools(tools []ToolDescriptor) string {
	var b strings.Builder
	b.WriteString("You have access to the following tools. To call a tool, emit a single XML element named after the tool, with one child element per argument, e.g. <tool_name><arg>value</arg></tool_name>.\n\nAvailable tools:\n")
	for _, t := range tools {
		b.WriteString("- " + t.Name)
		if t.Description != "" {
			b.WriteString(": " + t.Description)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (p *morphXML) FormatToolCall(call ToolCall) string {
	out, _ := rxml.Stringify(call.ToolName, call.Arguments, rxml.StringifyOptions{})
	return string(out)
}

func (p *morphXML) FormatToolResponse(msg Message) string {
	return fmt.Sprintf("<%s_response>%s</%s_response>", msg.ToolName, msg.Content, msg.ToolName)
}

func (p *morphXML) ParseGeneratedText(text string, tools []ToolDescriptor) []Part {
	schemas := indexSchemas(tools)
	names := toolNames(tools)

	var parts []Part
	remaining := text

	for {
		openIdx, name := findEarliestToolOpenTag(remaining, names)
		if openIdx == -1 {
			if remaining != "" {
				parts = append(parts, Part{Type: "text", Text: remaining})
			}
			break
		}

		if openIdx > 0 {
			parts = append(parts, Part{Type: "text", Text: remaining[:openIdx]})
		}

		closeTag := "</" + name + ">"
		rest := remaining[openIdx:]
		closeIdx := strings.Index(rest, closeTag)
		if closeIdx == -1 {
			parts = append(parts, Part{Type: "text", Text: rest})
			break
		}

		element := rest[:closeIdx+len(closeTag)]
		remaining = rest[closeIdx+len(closeTag):]

		args, err := p.parsePayload(name, element, schemas[name])
		if err != nil {
			parts = append(parts, Part{Type: "text", Text: element})
			continue
		}

		parts = append(parts, Part{Type: "tool-call", ToolCall: &ToolCall{ToolName: name, Arguments: args}})
	}

	return withGeneratedIDs(parts)
}

func (p *morphXML) CreateStreamParser(tools []ToolDescriptor) StreamParser {
	schemas := indexSchemas(tools)

	sentinels := make([]streamparser.Sentinel, 0, len(tools))
	for _, t := range tools {
		sentinels = append(sentinels, streamparser.Sentinel{Open: "<" + t.Name + ">", Close: "</" + t.Name + ">"})
	}

	cfg := streamparser.Config{
		Sentinels: sentinels,
		ParsePayload: func(openSentinel, raw string) (string, map[string]any, error) {
			name := strings.TrimSuffix(strings.TrimPrefix(openSentinel, "<"), ">")
			full := openSentinel + raw + "</" + name + ">"
			args, err := p.parsePayload(name, full, schemas[name])
			return name, args, err
		},
	}

	return &sessionAdapter{session: streamparser.New(cfg)}
}

// parsePayload tokenizes a complete <name>...</name> element and coerces
// each child element into the tool's declared argument types. Children that
// repeat under the same tag name (spec.md §4.9's "repeated child tags
// become arrays", and the §8 parallel-arrays worked example) are grouped
// before coercion instead of the last occurrence silently overwriting the
// rest.
func (p *morphXML) parsePayload(name, element string, schema *schemacoerce.Schema) (map[string]any, error) {
	opts := rxml.ParseOptions{RootTag: name, Repair: true}
	if p.throwOnDuplicateStringTags && schema != nil {
		opts.StringTag = func(parent, tag string) bool {
			if parent != name {
				return false
			}
			prop := schema.Property(tag)
			return prop != nil && prop.Type() == "string"
		}
	}

	root, err := rxml.Parse([]byte(element), opts)
	if err != nil {
		return nil, err
	}

	args := map[string]any{}
	for tag, nodes := range groupChildren(root) {
		var prop *schemacoerce.Schema
		if schema != nil {
			prop = schema.Property(tag)
		}

		if len(nodes) == 1 {
			args[tag] = schemacoerce.Coerce(childValue(nodes[0]), prop)
			continue
		}

		// A string-typed property can't legitimately repeat; when the
		// duplicate-string-tag policy is disabled (so rxml.Parse never
		// rejected this above), fall back to first-wins rather than
		// smuggling a slice into a scalar field.
		if prop != nil && prop.Type() == "string" {
			args[tag] = schemacoerce.Coerce(childValue(nodes[0]), prop)
			continue
		}

		values := make([]any, len(nodes))
		for i, cn := range nodes {
			values[i] = childValue(cn)
		}
		args[tag] = schemacoerce.Coerce(values, prop)
	}

	return args, nil
}

// groupChildren buckets root's direct element children by tag name,
// preserving each bucket's document order.
func groupChildren(root *rxml.Node) map[string][]*rxml.Node {
	groups := map[string][]*rxml.Node{}
	for _, c := range root.Children {
		cn, ok := c.(*rxml.Node)
		if !ok {
			continue
		}
		groups[cn.TagName] = append(groups[cn.TagName], cn)
	}
	return groups
}

// childValue walks n recursively into a plain Go value: a node with only
// text content (no element children) yields its text; a node with element
// children yields a map keyed by child tag name, with repeated same-named
// children collected into a slice — so a nested array- or object-typed
// argument built from several levels of XML elements still reaches
// schemacoerce.Coerce as proper structure rather than flattened text.
func childValue(n *rxml.Node) any {
	groups := groupChildren(n)
	if len(groups) == 0 {
		return n.Text()
	}

	out := make(map[string]any, len(groups))
	for tag, nodes := range groups {
		if len(nodes) == 1 {
			out[tag] = childValue(nodes[0])
			continue
		}
		values := make([]any, len(nodes))
		for i, cn := range nodes {
			values[i] = childValue(cn)
		}
		out[tag] = values
	}
	return out
}

func toolNames(tools []ToolDescriptor) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	return names
}

// findEarliestToolOpenTag finds the earliest occurrence of any registered
// tool's opening tag in text, returning its index and the matched tool
// name, or (-1, "") if none is present.
func findEarliestToolOpenTag(text string, names []string) (int, string) {
	bestIdx := -1
	bestName := ""

	for _, name := range names {
		tag := "<" + name + ">"
		idx := strings.Index(text, tag)
		if idx == -1 {
			continue
		}
		if bestIdx == -1 || idx < bestIdx || (idx == bestIdx && name < bestName) {
			bestIdx = idx
			bestName = name
		}
	}

	return bestIdx, bestName
}
