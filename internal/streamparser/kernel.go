// Package streamparser implements the chunk-boundary-safe incremental
// state machine shared by every protocol's streaming parser (spec.md C6),
// plus the tool-input lifecycle/prefix-delta emitter (C8). It has no
// knowledge of any specific protocol's sentinel syntax or payload grammar —
// internal/protocol configures a Session per generation and adapts its
// Event stream into the shared protocol.StreamEvent shape, keeping this
// package free of a dependency on internal/protocol.
//
// The state machine design and the prefix-delta calculation are grounded on
// epheien-llm-api-relay/toolcallfix/transform.go's StreamTransformer:
// buffer text until a sentinel is recognized, then buffer inside the
// sentinel until its close is recognized, emitting only the incremental
// suffix of arguments seen so far.
package streamparser

import (
	"strings"

	"github.com/mihaisavezi/toolcall-bridge/internal/idgen"
	"github.com/mihaisavezi/toolcall-bridge/internal/scanutil"
)

// Sentinel is one protocol's textual open/close marker pair.
type Sentinel struct {
	Open  string
	Close string
}

// ToolCall is a fully parsed tool invocation, as produced by this package.
type ToolCall struct {
	ID        string
	ToolName  string
	Arguments map[string]any
}

// Event mirrors spec.md's streaming event taxonomy; internal/protocol
// translates these 1:1 into protocol.StreamEvent.
type Event struct {
	Type string // "text-start", "text-delta", "text-end", "tool-input-start", "tool-input-delta", "tool-input-end", "tool-call"

	TextID    string
	TextDelta string

	ToolCallID   string
	ToolName     string
	InputDelta   string
	ToolCall     *ToolCall
	ErrorMessage string
}

// PayloadParser parses the raw text between a sentinel's open and close
// markers into a tool name and arguments. openSentinel is the exact Open
// text of the sentinel that matched, letting protocols whose tool name is
// encoded in the sentinel itself (e.g. XML-element's <TOOLNAME>) recover it
// without re-scanning. Protocol implementations supply one of these (e.g.
// JSON-in-tag parses JSON out of raw and ignores openSentinel; XML-element
// derives the name from openSentinel and parses raw via internal/rxml).
type PayloadParser func(openSentinel, raw string) (name string, args map[string]any, err error)

// PartialNameParser optionally extracts a tool name as soon as it's
// determinable from a partial payload (before the close sentinel arrives),
// letting a Session emit "tool-input-start" early. Implementations that
// can't determine the name early should return ("", false).
type PartialNameParser func(partial string) (name string, ok bool)

// Config parameterizes one protocol's streaming behavior over the shared
// kernel.
type Config struct {
	Sentinels    []Sentinel
	ParsePayload PayloadParser
	PartialName  PartialNameParser
}

type state int

const (
	stateOutside state = iota
	stateInsideTool
)

// Session is one protocol-agnostic streaming parser instance, configured by
// Config.
type Session struct {
	cfg Config

	st          state
	buf         strings.Builder
	activeOpen  string
	activeClose string
	toolCallID  string
	toolName    string
	nameSent    bool
	emitted     string // longest prefix of the raw payload already emitted as input-delta

	textActive bool
	textID     string
}

// New returns a fresh Session for one generation.
func New(cfg Config) *Session {
	return &Session{cfg: cfg, st: stateOutside}
}

// emitTextDelta wraps text in a text-start marker the first time text is
// emitted since the last text-end (or session start), satisfying spec.md
// §3/§8.4's "every text-start(id) has exactly one text-end(id)" pairing
// around every contiguous run of text-delta events.
func (s *Session) emitTextDelta(text, errMsg string) []Event {
	var events []Event
	if !s.textActive {
		s.textActive = true
		s.textID = idgen.PartID()
		events = append(events, Event{Type: "text-start", TextID: s.textID})
	}
	events = append(events, Event{Type: "text-delta", TextID: s.textID, TextDelta: text, ErrorMessage: errMsg})
	return events
}

// closeTextIfActive closes an open text span, if any, before a non-text
// event (a tool-input-start, or end of stream) is emitted.
func (s *Session) closeTextIfActive() []Event {
	if !s.textActive {
		return nil
	}
	ev := Event{Type: "text-end", TextID: s.textID}
	s.textActive = false
	s.textID = ""
	return []Event{ev}
}

// Feed consumes the next text delta from the upstream model and returns the
// Events it produces.
func (s *Session) Feed(delta string) []Event {
	var events []Event

	s.buf.WriteString(delta)

	for {
		progressed, evs := s.step()
		events = append(events, evs...)
		if !progressed {
			break
		}
	}

	return events
}

// Finish flushes any buffered state at the end of the generation: text left
// over is emitted as a trailing text-delta (matching epheien's
// TransformLine "flush leftover buffer as content on stop" behavior), and
// an in-flight tool call whose close sentinel never arrived is parsed
// against whatever payload accumulated.
func (s *Session) Finish() []Event {
	var events []Event

	remaining := s.buf.String()
	s.buf.Reset()

	if s.st == stateInsideTool {
		name, args, err := s.cfg.ParsePayload(s.activeOpen, remaining)
		if err != nil {
			events = append(events, s.emitTextDelta(s.activeOpen+remaining, err.Error())...)
			events = append(events, s.closeTextIfActive()...)
		} else {
			events = append(events, s.closeTextIfActive()...)
			if !s.nameSent {
				events = append(events, Event{Type: "tool-input-start", ToolCallID: s.toolCallID, ToolName: name})
			}
			if delta := deltaSuffix(s.emitted, rawArgsText(args)); delta != "" {
				events = append(events, Event{Type: "tool-input-delta", ToolCallID: s.toolCallID, InputDelta: delta})
			}
			events = append(events, Event{Type: "tool-input-end", ToolCallID: s.toolCallID})
			events = append(events, Event{
				Type:     "tool-call",
				ToolCall: &ToolCall{ID: s.toolCallID, ToolName: name, Arguments: args},
			})
		}
		s.st = stateOutside
		return events
	}

	if remaining != "" {
		events = append(events, s.emitTextDelta(remaining, "")...)
	}
	events = append(events, s.closeTextIfActive()...)

	return events
}

// step consumes as much of s.buf as it safely can given the current state,
// returning whether it made progress (so Feed can loop until the buffer is
// exhausted of safely-actionable content) and any events produced.
func (s *Session) step() (bool, []Event) {
	switch s.st {
	case stateOutside:
		return s.stepOutside()
	default:
		return s.stepInside()
	}
}

func (s *Session) stepOutside() (bool, []Event) {
	buf := s.buf.String()
	if buf == "" {
		return false, nil
	}

	sentinels := make([][]byte, len(s.cfg.Sentinels))
	for i, sn := range s.cfg.Sentinels {
		sentinels[i] = []byte(sn.Open)
	}

	match, ok := scanutil.ScanSentinels([]byte(buf), sentinels)
	if !ok {
		// No sentinel could possibly start anywhere in buf: the whole
		// thing is safe to emit as text.
		s.buf.Reset()
		return false, s.emitTextDelta(buf, "")
	}

	if !match.Full {
		// A sentinel might start at match.Index but hasn't fully arrived
		// yet; emit everything before it and hold the rest back.
		if match.Index > 0 {
			head := trimAroundSentinel(buf[:match.Index], true)
			s.buf.Reset()
			s.buf.WriteString(buf[match.Index:])
			if head == "" {
				return true, nil
			}
			return false, s.emitTextDelta(head, "")
		}
		return false, nil
	}

	// Full sentinel match: emit preceding text, then transition.
	sn := s.cfg.Sentinels[match.Which]

	var events []Event
	if match.Index > 0 {
		head := trimAroundSentinel(buf[:match.Index], true)
		if head != "" {
			events = append(events, s.emitTextDelta(head, "")...)
		}
	}
	events = append(events, s.closeTextIfActive()...)

	rest := buf[match.Index+len(sn.Open):]
	s.buf.Reset()
	s.buf.WriteString(rest)

	s.st = stateInsideTool
	s.activeOpen = sn.Open
	s.activeClose = sn.Close
	s.toolCallID = idgen.ToolCallID()
	s.toolName = ""
	s.nameSent = false
	s.emitted = ""

	return true, events
}

func (s *Session) stepInside() (bool, []Event) {
	buf := s.buf.String()

	closeIdx := strings.Index(buf, s.activeClose)
	if closeIdx == -1 {
		var events []Event

		if !s.nameSent && s.cfg.PartialName != nil {
			if name, ok := s.cfg.PartialName(buf); ok {
				s.toolName = name
				s.nameSent = true
				events = append(events, Event{Type: "tool-input-start", ToolCallID: s.toolCallID, ToolName: name})
			}
		}

		if s.nameSent {
			if delta := deltaSuffix(s.emitted, buf); delta != "" {
				s.emitted = buf
				events = append(events, Event{Type: "tool-input-delta", ToolCallID: s.toolCallID, InputDelta: delta})
			}
		}

		return false, events
	}

	payload := buf[:closeIdx]
	rest := buf[closeIdx+len(s.activeClose):]
	s.buf.Reset()
	s.buf.WriteString(trimAroundSentinel(rest, false))

	var events []Event

	name, args, err := s.cfg.ParsePayload(s.activeOpen, payload)
	if err != nil {
		// Malformed payload: surface the raw buffered text as a text-delta
		// per spec.md's malformed-payload recovery policy, rather than
		// dropping it.
		events = append(events, s.emitTextDelta(s.activeOpen+payload+s.activeClose, err.Error())...)
		events = append(events, s.closeTextIfActive()...)
		s.st = stateOutside
		return true, events
	}

	if !s.nameSent {
		events = append(events, Event{Type: "tool-input-start", ToolCallID: s.toolCallID, ToolName: name})
	}

	if delta := deltaSuffix(s.emitted, rawArgsText(args)); delta != "" {
		events = append(events, Event{Type: "tool-input-delta", ToolCallID: s.toolCallID, InputDelta: delta})
	}

	events = append(events, Event{Type: "tool-input-end", ToolCallID: s.toolCallID})
	events = append(events, Event{
		Type:     "tool-call",
		ToolCall: &ToolCall{ID: s.toolCallID, ToolName: name, Arguments: args},
	})

	s.st = stateOutside

	return true, events
}

// deltaSuffix implements the prefix-diff calculation directly grounded on
// toolcallfix.calculateArgumentsDelta: if newText extends oldText, return
// only the appended suffix; otherwise (oldText isn't a prefix of newText,
// e.g. a full re-parse produced different formatting) return newText
// wholesale rather than guess at a diff.
func deltaSuffix(old, next string) string {
	if strings.HasPrefix(next, old) {
		return next[len(old):]
	}
	return next
}

// rawArgsText renders parsed arguments back to a canonical compact JSON
// string for delta-diffing and final tool-input-delta accounting. Callers
// needing the arguments themselves use the ToolCall.Arguments map, not this
// string.
func rawArgsText(args map[string]any) string {
	return jsonCompact(args)
}

// trimAroundSentinel implements the bound separator-newline merge policy
// (DESIGN.md Open Question 1): trims exactly one adjacent newline at the
// relevant edge of s, never collapsing internal blank lines.
func trimAroundSentinel(s string, trailing bool) string {
	if trailing {
		return strings.TrimSuffix(s, "\n")
	}
	return strings.TrimPrefix(s, "\n")
}
