package middleware

import (
	"context"
	"fmt"

	"github.com/mihaisavezi/toolcall-bridge/internal/promptbuilder"
	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
	"github.com/mihaisavezi/toolcall-bridge/internal/textparser"
)

// UpstreamModel is the collaborator this package drives: whatever actually
// talks to the text-only model. The transport, retries, and auth for this
// call are explicitly out of scope (see SPEC_FULL.md Non-goals); this
// package only shapes what goes in and reinterprets what comes out.
type UpstreamModel interface {
	Generate(ctx context.Context, messages []protocol.Message) (string, error)
	Stream(ctx context.Context, messages []protocol.Message) (<-chan string, error)
}

// ToolRegistry supplies the tool definitions active for one call.
type ToolRegistry interface {
	Tools() []protocol.ToolDescriptor
}

// ToolChoice mirrors a caller's tool_choice request.
type ToolChoice struct {
	Forced   bool
	ToolName string
}

// Bridge wires C10 (prompt building) and C6/C7/C9 (parsing) around an
// UpstreamModel, implementing transformParams/wrapGenerate/wrapStream from
// spec.md §4.11. Grounded on the teacher's internal/middleware/chain.go
// composable-middleware shape, generalized from HTTP handler wrapping to
// generate/stream call wrapping.
type Bridge struct {
	Protocol protocol.Protocol
	Registry ToolRegistry
	Upstream UpstreamModel
}

// TransformParams rewrites messages to embed the tool-call protocol prompt,
// per spec.md §4.11's transformParams.
func (b *Bridge) TransformParams(messages []protocol.Message) []protocol.Message {
	return promptbuilder.Build(messages, b.Registry.Tools(), b.Protocol)
}

// WrapGenerate drives a single non-streaming call: transforms params, calls
// upstream once, and parses the result into typed parts — short-circuiting
// to a forced call when choice.Forced is set, per spec.md §4.9/§8's
// toolChoice behavior.
func (b *Bridge) WrapGenerate(ctx context.Context, messages []protocol.Message, choice ToolChoice) ([]protocol.Part, error) {
	if choice.Forced {
		return b.forcedCall(ctx, messages, choice.ToolName)
	}

	transformed := b.TransformParams(messages)

	text, err := b.Upstream.Generate(ctx, transformed)
	if err != nil {
		return nil, fmt.Errorf("middleware: upstream generate: %w", err)
	}

	return textparser.Parse(text, b.Registry.Tools(), b.Protocol), nil
}

// WrapStream drives a streaming call, feeding every upstream text chunk
// through a fresh protocol.StreamParser session and returning the combined
// event channel. Forced tool choice instead makes a single non-streaming
// call: when a tool call is parsed from it, the channel carries exactly
// tool-input-start, tool-input-end and tool-call for that call (no
// tool-input-delta and no text); when none is parsed, each text part is
// sent as a text-delta. No finish event is sent in either case; the stream
// ends when the channel is closed.
func (b *Bridge) WrapStream(ctx context.Context, messages []protocol.Message, choice ToolChoice) (<-chan protocol.StreamEvent, error) {
	out := make(chan protocol.StreamEvent)

	if choice.Forced {
		parts, err := b.forcedCall(ctx, messages, choice.ToolName)
		if err != nil {
			close(out)
			return nil, err
		}
		go func() {
			defer close(out)
			emitPartsAsStream(parts, out)
		}()
		return out, nil
	}

	transformed := b.TransformParams(messages)

	upstream, err := b.Upstream.Stream(ctx, transformed)
	if err != nil {
		close(out)
		return nil, fmt.Errorf("middleware: upstream stream: %w", err)
	}

	session := b.Protocol.CreateStreamParser(b.Registry.Tools())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case delta, ok := <-upstream:
				if !ok {
					for _, e := range session.Finish() {
						out <- e
					}
					return
				}
				for _, e := range session.Feed(delta) {
					out <- e
				}
			}
		}
	}()

	return out, nil
}

// forcedCall implements the toolChoice short-circuit: upstream is always
// called non-streaming regardless of the client's own streaming
// preference, since a model constrained to one known tool needs no
// incremental parsing.
func (b *Bridge) forcedCall(ctx context.Context, messages []protocol.Message, toolName string) ([]protocol.Part, error) {
	transformed := b.TransformParams(messages)

	text, err := b.Upstream.Generate(ctx, transformed)
	if err != nil {
		return nil, fmt.Errorf("middleware: upstream generate (forced tool %q): %w", toolName, err)
	}

	parts := textparser.Parse(text, b.Registry.Tools(), b.Protocol)
	for _, p := range parts {
		if p.Type == "tool-call" && p.ToolCall != nil {
			return []protocol.Part{p}, nil
		}
	}

	return parts, nil
}

func emitPartsAsStream(parts []protocol.Part, out chan<- protocol.StreamEvent) {
	for _, p := range parts {
		switch p.Type {
		case "text":
			out <- protocol.StreamEvent{Type: "text-delta", TextDelta: p.Text}
		case "tool-call":
			out <- protocol.StreamEvent{Type: "tool-input-start", ToolCallID: p.ToolCall.ID, ToolName: p.ToolCall.ToolName}
			out <- protocol.StreamEvent{Type: "tool-input-end", ToolCallID: p.ToolCall.ID}
			out <- protocol.StreamEvent{Type: "tool-call", ToolCall: p.ToolCall}
		}
	}
}
