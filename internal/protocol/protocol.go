// Package protocol defines the common capability surface every in-band
// tool-call protocol (Hermes/Gemma JSON-in-tag, XML-element, UI-TARS)
// implements, plus the shared wire types those implementations and the
// streaming/non-streaming parser kernels operate on.
package protocol

import "github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"

// ToolDescriptor is the subset of a registered tool's definition the
// protocol layer needs: its name and its input schema.
type ToolDescriptor struct {
	Name        string
	Description string
	Schema      *schemacoerce.Schema
}

// Message is a minimal chat message, enough to drive prompt building; the
// middleware layer (internal/middleware) adapts richer upstream message
// types into this shape and back.
type Message struct {
	Role    string // "system", "user", "assistant", "tool"
	Content string

	// ToolCallID is set on tool-response messages, naming which call this
	// message answers.
	ToolCallID string
	// ToolName is set on tool-response messages for protocols (e.g.
	// XML-element) whose response format is keyed by name rather than ID.
	ToolName string
}

// ToolCall is a fully parsed tool invocation.
type ToolCall struct {
	ID        string
	ToolName  string
	Arguments map[string]any
}

// Part is one unit of a parsed generation: either plain text or a tool
// call, mirroring spec.md's text-delta/tool-call event shapes collapsed
// into the non-streaming result form.
type Part struct {
	Type     string // "text" or "tool-call"
	Text     string
	ToolCall *ToolCall
}

// Protocol is the capability surface every in-band tool-call format
// implements.
type Protocol interface {
	// Name identifies the protocol, e.g. "hermes", "xml-element", "ui-tars".
	Name() string

	// FormatTools renders tool definitions into the protocol's prompt
	// shape (a system-message fragment describing available tools).
	FormatTools(tools []ToolDescriptor) string

	// FormatToolCall renders a completed tool call the way the model
	// would have emitted it, used to replay prior assistant turns back
	// into the prompt on multi-turn conversations.
	FormatToolCall(call ToolCall) string

	// FormatToolResponse renders a tool's result for inclusion in the
	// next prompt turn.
	FormatToolResponse(msg Message) string

	// ParseGeneratedText parses a complete, non-streamed generation into
	// an ordered list of Parts.
	ParseGeneratedText(text string, tools []ToolDescriptor) []Part

	// CreateStreamParser returns a fresh incremental parser session for
	// one generation.
	CreateStreamParser(tools []ToolDescriptor) StreamParser
}

// StreamParser is the incremental session interface internal/streamparser
// implements once per protocol and internal/middleware drives chunk by
// chunk.
type StreamParser interface {
	// Feed consumes the next text delta from the upstream model and
	// returns zero or more StreamEvents it produces.
	Feed(delta string) []StreamEvent
	// Finish flushes any buffered state at the end of the generation.
	Finish() []StreamEvent
}

// StreamEvent mirrors spec.md's streaming event taxonomy.
type StreamEvent struct {
	Type string // "text-start", "text-delta", "text-end", "tool-input-start", "tool-input-delta", "tool-input-end", "tool-call", "error"

	TextID    string
	TextDelta string

	ToolCallID   string
	ToolName     string
	InputDelta   string // for tool-input-delta
	ToolCall     *ToolCall
	ErrorMessage string
}

