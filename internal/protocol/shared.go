package protocol

import (
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/idgen"
	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
	"github.com/mihaisavezi/toolcall-bridge/internal/streamparser"
)

// indexSchemas builds a name->schema lookup for quick coercion during
// parsing.
func indexSchemas(tools []ToolDescriptor) map[string]*schemacoerce.Schema {
	m := make(map[string]*schemacoerce.Schema, len(tools))
	for _, t := range tools {
		m[t.Name] = t.Schema
	}
	return m
}

// withGeneratedIDs assigns a fresh ID to every tool-call Part that doesn't
// already have one, used by the non-streaming ParseGeneratedText
// implementations shared across protocols.
func withGeneratedIDs(parts []Part) []Part {
	for i := range parts {
		if parts[i].Type == "tool-call" && parts[i].ToolCall != nil && parts[i].ToolCall.ID == "" {
			parts[i].ToolCall.ID = idgen.ToolCallID()
		}
	}
	return parts
}

// sessionAdapter wraps a streamparser.Session (which has no dependency on
// this package) and translates its Event stream into protocol.StreamEvent,
// letting every protocol implementation reuse the one shared kernel.
type sessionAdapter struct {
	session *streamparser.Session
}

func (a *sessionAdapter) Feed(delta string) []StreamEvent {
	return adaptEvents(a.session.Feed(delta))
}

func (a *sessionAdapter) Finish() []StreamEvent {
	return adaptEvents(a.session.Finish())
}

func adaptEvents(evs []streamparser.Event) []StreamEvent {
	out := make([]StreamEvent, len(evs))
	for i, e := range evs {
		se := StreamEvent{
			Type:         e.Type,
			TextID:       e.TextID,
			TextDelta:    e.TextDelta,
			ToolCallID:   e.ToolCallID,
			ToolName:     e.ToolName,
			InputDelta:   e.InputDelta,
			ErrorMessage: e.ErrorMessage,
		}
		if e.ToolCall != nil {
			se.ToolCall = &ToolCall{ID: e.ToolCall.ID, ToolName: e.ToolCall.ToolName, Arguments: e.ToolCall.Arguments}
		}
		out[i] = se
	}
	return out
}

// relaxJSON performs the set of transformations spec.md §4.9 requires the
// JSON-in-tag payload parser to tolerate: single-quoted strings, "//" and
// "/* */" comments, and trailing commas before a closing brace/bracket.
// Unquoted keys are NOT attempted here (too ambiguous to do safely by
// regex).
func relaxJSON(s string) string {
	s = strings.TrimSpace(s)
	s = tolerateRelaxedSyntax(s)
	return stripTrailingCommas(s)
}

// tolerateRelaxedSyntax rewrites single-quoted string literals into
// double-quoted ones and strips "//" line comments and "/* */" block
// comments, leaving well-formed double-quoted strings untouched (including
// any comment-like or quote-like bytes they contain).
func tolerateRelaxedSyntax(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for i := 0; i < len(s); i++ {
		c := s[i]

		switch {
		case c == '"':
			j := copyDoubleQuotedString(&b, s, i)
			i = j - 1

		case c == '\'':
			j := convertSingleQuotedString(&b, s, i)
			i = j - 1

		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			i += 2
			for i < len(s) && s[i] != '\n' {
				i++
			}
			i--

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end == -1 {
				i = len(s)
			} else {
				i += 2 + end + 2 - 1
			}

		default:
			b.WriteByte(c)
		}
	}

	return b.String()
}

// copyDoubleQuotedString copies a well-formed double-quoted string literal
// starting at s[start] (the opening quote) verbatim into b, returning the
// index just past its closing quote (or len(s) if unterminated).
func copyDoubleQuotedString(b *strings.Builder, s string, start int) int {
	b.WriteByte('"')
	i := start + 1
	for i < len(s) {
		c := s[i]
		b.WriteByte(c)
		if c == '\\' && i+1 < len(s) {
			i++
			b.WriteByte(s[i])
			i++
			continue
		}
		i++
		if c == '"' {
			break
		}
	}
	return i
}

// convertSingleQuotedString copies a single-quoted string literal starting
// at s[start] (the opening quote) into b as an equivalent double-quoted
// literal, unescaping "\'" and escaping any bare '"' so the result is valid
// JSON. Returns the index just past the closing quote (or len(s) if
// unterminated).
func convertSingleQuotedString(b *strings.Builder, s string, start int) int {
	b.WriteByte('"')
	i := start + 1
	closed := false
	for i < len(s) && !closed {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s) && s[i+1] == '\'':
			b.WriteByte('\'')
			i += 2
		case c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			b.WriteByte(s[i+1])
			i += 2
		case c == '"':
			b.WriteString(`\"`)
			i++
		case c == '\'':
			i++
			closed = true
		default:
			b.WriteByte(c)
			i++
		}
	}
	b.WriteByte('"')
	return i
}

func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]

		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}

		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}

		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the trailing comma
			}
		}

		b.WriteByte(c)
	}

	return b.String()
}
