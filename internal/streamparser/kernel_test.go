package streamparser

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoPayloadParser(openSentinel, raw string) (string, map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return "", nil, err
	}
	name, _ := obj["name"].(string)
	args, _ := obj["arguments"].(map[string]any)
	return name, args, nil
}

func hermesConfig() Config {
	return Config{
		Sentinels:    []Sentinel{{Open: "<tool_call>", Close: "</tool_call>"}},
		ParsePayload: echoPayloadParser,
	}
}

func collectEvents(t *testing.T, s *Session, deltas []string) []Event {
	t.Helper()
	var all []Event
	for _, d := range deltas {
		all = append(all, s.Feed(d)...)
	}
	all = append(all, s.Finish()...)
	return all
}

func TestSession_TextOnly(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{"hello ", "world"})

	require.Len(t, events, 4)
	assert.Equal(t, "text-start", events[0].Type)
	assert.Equal(t, "text-delta", events[1].Type)
	assert.Equal(t, "hello ", events[1].TextDelta)
	assert.Equal(t, "text-delta", events[2].Type)
	assert.Equal(t, "world", events[2].TextDelta)
	assert.Equal(t, "text-end", events[3].Type)

	assert.Equal(t, events[0].TextID, events[1].TextID)
	assert.Equal(t, events[0].TextID, events[2].TextID)
	assert.Equal(t, events[0].TextID, events[3].TextID)
}

// TestSession_EveryTextStartHasExactlyOneTextEnd checks spec.md §8.4's
// bracketing invariant across a stream that mixes plain text with a tool
// call in the middle and trailing text after it.
func TestSession_EveryTextStartHasExactlyOneTextEnd(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{
		"before ",
		`<tool_call>{"name": "get_weather", "arguments": {"city": "Porto"}}</tool_call>`,
		" after",
	})

	starts := map[string]int{}
	ends := map[string]int{}
	for _, e := range events {
		switch e.Type {
		case "text-start":
			starts[e.TextID]++
		case "text-end":
			ends[e.TextID]++
		}
	}

	require.NotEmpty(t, starts)
	assert.Equal(t, starts, ends, "every text-start(id) must have exactly one text-end(id)")
	for id, n := range starts {
		assert.Equal(t, 1, n, "text-start %q should not repeat", id)
	}
}

func TestSession_SplitOpenSentinelAcrossChunks(t *testing.T) {
	payload := `{"name": "get_weather", "arguments": {"city": "Oslo"}}`

	s := New(hermesConfig())
	// the open sentinel itself is split across two Feed calls
	events := collectEvents(t, s, []string{"before <tool_", "call>" + payload + "</tool_call>", "after"})

	var types []string
	for _, e := range events {
		types = append(types, e.Type)
	}

	assert.Contains(t, types, "text-delta")
	assert.Contains(t, types, "tool-input-start")
	assert.Contains(t, types, "tool-call")

	var toolCallEvent *Event
	for i := range events {
		if events[i].Type == "tool-call" {
			toolCallEvent = &events[i]
		}
	}
	require.NotNil(t, toolCallEvent)
	assert.Equal(t, "get_weather", toolCallEvent.ToolCall.ToolName)
	assert.Equal(t, "Oslo", toolCallEvent.ToolCall.Arguments["city"])
}

func TestSession_SplitCloseSentinelAcrossChunks(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{
		`<tool_call>{"name": "get_weather", "arguments": {}}</tool_`,
		"call>",
	})

	var sawToolCall bool
	for _, e := range events {
		if e.Type == "tool-call" {
			sawToolCall = true
			assert.Equal(t, "get_weather", e.ToolCall.ToolName)
		}
	}
	assert.True(t, sawToolCall)
}

func TestSession_TrimsOneNewlineAroundSentinel(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{
		"intro\n<tool_call>{\"name\": \"get_weather\", \"arguments\": {}}</tool_call>\nend",
	})

	require.True(t, len(events) >= 3)

	var leadingText string
	for _, e := range events {
		if e.Type == "text-delta" {
			leadingText = e.TextDelta
			break
		}
	}
	assert.Equal(t, "intro", leadingText)

	// the trailing text-delta follows the tool call, with its leading newline trimmed
	var trailingText string
	for _, e := range events {
		if e.Type == "text-delta" && e.TextDelta == "end" {
			trailingText = e.TextDelta
		}
	}
	assert.Equal(t, "end", trailingText)
}

func TestSession_MalformedPayloadEmitsTextWithError(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{`<tool_call>{not valid json}</tool_call>`})

	require.Len(t, events, 3)
	assert.Equal(t, "text-start", events[0].Type)
	assert.Equal(t, "text-delta", events[1].Type)
	assert.Contains(t, events[1].TextDelta, "<tool_call>")
	assert.NotEmpty(t, events[1].ErrorMessage)
	assert.Equal(t, "text-end", events[2].Type)
	assert.Equal(t, events[0].TextID, events[2].TextID)
}

func TestSession_UnterminatedToolCallFlushedOnFinish(t *testing.T) {
	s := New(hermesConfig())
	events := collectEvents(t, s, []string{
		`<tool_call>{"name": "get_weather", "arguments": {"city": "Bergen"}}`,
	})

	var sawToolCall bool
	for _, e := range events {
		if e.Type == "tool-call" {
			sawToolCall = true
			assert.Equal(t, "Bergen", e.ToolCall.Arguments["city"])
		}
	}
	assert.True(t, sawToolCall, "unterminated tool call should still be parsed on Finish")
}

func TestSession_ToolInputDeltaIsIncrementalSuffix(t *testing.T) {
	s := New(hermesConfig())

	var deltas []string
	for _, d := range []string{
		`<tool_call>{"name": "get_weather", `,
		`"arguments": {"city": "Gdansk"}}`,
		`</tool_call>`,
	} {
		for _, e := range s.Feed(d) {
			if e.Type == "tool-input-delta" {
				deltas = append(deltas, e.InputDelta)
			}
		}
	}
	s.Finish()

	// each successive delta should not repeat a previous one verbatim
	seen := map[string]bool{}
	for _, d := range deltas {
		assert.False(t, seen[d] && d != "", "delta %q repeated", d)
		seen[d] = true
	}
}

func TestSession_PartialNameEmitsEarlyToolInputStart(t *testing.T) {
	cfg := Config{
		Sentinels:    []Sentinel{{Open: "<tool_call>", Close: "</tool_call>"}},
		ParsePayload: echoPayloadParser,
		PartialName: func(partial string) (string, bool) {
			if len(partial) > 5 {
				return "get_weather", true
			}
			return "", false
		},
	}

	s := New(cfg)
	events := s.Feed(`<tool_call>{"name": "get_weather", `)

	var sawEarlyStart bool
	for _, e := range events {
		if e.Type == "tool-input-start" {
			sawEarlyStart = true
			assert.Equal(t, "get_weather", e.ToolName)
		}
	}
	assert.True(t, sawEarlyStart)
}

func TestDeltaSuffix(t *testing.T) {
	assert.Equal(t, "bar", deltaSuffix("foo", "foobar"))
	assert.Equal(t, "completely different", deltaSuffix("foo", "completely different"))
	assert.Equal(t, "", deltaSuffix("foo", "foo"))
}
