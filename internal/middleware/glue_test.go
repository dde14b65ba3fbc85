package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaisavezi/toolcall-bridge/internal/protocol"
)

type fakeUpstream struct {
	generateText  string
	generateErr   error
	streamChunks  []string
	streamErr     error
	lastMessages  []protocol.Message
}

func (f *fakeUpstream) Generate(ctx context.Context, messages []protocol.Message) (string, error) {
	f.lastMessages = messages
	return f.generateText, f.generateErr
}

func (f *fakeUpstream) Stream(ctx context.Context, messages []protocol.Message) (<-chan string, error) {
	f.lastMessages = messages
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan string, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

type fakeRegistry struct {
	tools []protocol.ToolDescriptor
}

func (f *fakeRegistry) Tools() []protocol.ToolDescriptor { return f.tools }

func weatherTool() protocol.ToolDescriptor {
	return protocol.ToolDescriptor{Name: "get_weather"}
}

func TestBridge_TransformParams_InjectsToolPrompt(t *testing.T) {
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
	}

	out := b.TransformParams([]protocol.Message{{Role: "user", Content: "hi"}})
	require.Len(t, out, 2)
	assert.Equal(t, "system", out[0].Role)
	assert.Contains(t, out[0].Content, "get_weather")
}

func TestBridge_WrapGenerate_ParsesUpstreamToolCall(t *testing.T) {
	upstream := &fakeUpstream{generateText: `<tool_call>{"name": "get_weather", "arguments": {"city": "Oslo"}}</tool_call>`}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	parts, err := b.WrapGenerate(context.Background(), []protocol.Message{{Role: "user", Content: "weather?"}}, ToolChoice{})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "tool-call", parts[0].Type)
	assert.Equal(t, "get_weather", parts[0].ToolCall.ToolName)

	// upstream should have received the tool-prompt-augmented messages, not the raw input.
	require.NotEmpty(t, upstream.lastMessages)
	assert.Equal(t, "system", upstream.lastMessages[0].Role)
}

func TestBridge_WrapGenerate_PropagatesUpstreamError(t *testing.T) {
	upstream := &fakeUpstream{generateErr: errors.New("boom")}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	_, err := b.WrapGenerate(context.Background(), []protocol.Message{{Role: "user", Content: "hi"}}, ToolChoice{})
	assert.Error(t, err)
}

func TestBridge_WrapGenerate_ForcedToolChoiceShortCircuits(t *testing.T) {
	upstream := &fakeUpstream{generateText: `<tool_call>{"name": "get_weather", "arguments": {"city": "Oslo"}}</tool_call>`}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	parts, err := b.WrapGenerate(context.Background(), []protocol.Message{{Role: "user", Content: "weather?"}}, ToolChoice{Forced: true, ToolName: "get_weather"})
	require.NoError(t, err)
	require.Len(t, parts, 1)
	assert.Equal(t, "tool-call", parts[0].Type)
	assert.Equal(t, "get_weather", parts[0].ToolCall.ToolName)
}

func TestBridge_WrapStream_EmitsToolCallEvent(t *testing.T) {
	upstream := &fakeUpstream{streamChunks: []string{
		`<tool_call>{"name": "get_weather", `,
		`"arguments": {"city": "Bergen"}}</tool_call>`,
	}}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	events, err := b.WrapStream(context.Background(), []protocol.Message{{Role: "user", Content: "weather?"}}, ToolChoice{})
	require.NoError(t, err)

	var got []protocol.StreamEvent
	for e := range events {
		got = append(got, e)
	}

	var sawToolCall bool
	for _, e := range got {
		if e.Type == "tool-call" {
			sawToolCall = true
			assert.Equal(t, "get_weather", e.ToolCall.ToolName)
			assert.Equal(t, "Bergen", e.ToolCall.Arguments["city"])
		}
	}
	assert.True(t, sawToolCall)
}

func TestBridge_WrapStream_ForcedToolChoiceSynthesizesStream(t *testing.T) {
	upstream := &fakeUpstream{generateText: `<tool_call>{"name": "get_weather", "arguments": {"city": "Oslo"}}</tool_call>`}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	events, err := b.WrapStream(context.Background(), []protocol.Message{{Role: "user", Content: "weather?"}}, ToolChoice{Forced: true, ToolName: "get_weather"})
	require.NoError(t, err)

	var types []string
	for e := range events {
		types = append(types, e.Type)
	}

	assert.Equal(t, []string{"tool-input-start", "tool-input-end", "tool-call"}, types)
}

func TestBridge_WrapStream_PropagatesUpstreamError(t *testing.T) {
	upstream := &fakeUpstream{streamErr: errors.New("boom")}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: upstream,
	}

	_, err := b.WrapStream(context.Background(), []protocol.Message{{Role: "user", Content: "hi"}}, ToolChoice{})
	assert.Error(t, err)
}

func TestBridge_WrapStream_RespectsContextCancellation(t *testing.T) {
	ch := make(chan string)
	upstream := &fakeUpstream{}
	b := &Bridge{
		Protocol: protocol.NewHermes(),
		Registry: &fakeRegistry{tools: []protocol.ToolDescriptor{weatherTool()}},
		Upstream: &contextAwareUpstream{ch: ch},
	}
	_ = upstream

	ctx, cancel := context.WithCancel(context.Background())
	events, err := b.WrapStream(ctx, []protocol.Message{{Role: "user", Content: "hi"}}, ToolChoice{})
	require.NoError(t, err)

	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected stream channel to close after context cancellation")
	}
}

type contextAwareUpstream struct {
	ch chan string
}

func (c *contextAwareUpstream) Generate(ctx context.Context, messages []protocol.Message) (string, error) {
	return "", nil
}

func (c *contextAwareUpstream) Stream(ctx context.Context, messages []protocol.Message) (<-chan string, error) {
	return c.ch, nil
}
