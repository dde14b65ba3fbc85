package rxml

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// Phase identifies when a Heuristic runs relative to tokenization.
type Phase int

const (
	// PhasePreParse runs against the raw source string before tokenizing.
	PhasePreParse Phase = iota
	// PhaseFallback runs only if the first tokenize attempt produced no
	// usable root element, against the raw source again.
	PhaseFallback
	// PhasePostParse runs against the already-built *Node tree.
	PhasePostParse
)

// RepairContext carries the mutable state heuristics operate on. Exactly
// one of Source/Root is meaningful depending on the heuristic's Phase.
type RepairContext struct {
	Source string
	Root   *Node
}

// Heuristic is one repair step. PreParse/Fallback heuristics mutate
// ctx.Source; PostParse heuristics mutate ctx.Root in place.
type Heuristic struct {
	Name  string
	Phase Phase
	Apply func(ctx *RepairContext) error
}

// Engine runs an ordered list of heuristics, bounded by MaxReparses so a
// pathological input cannot loop the fallback phase forever.
type Engine struct {
	Heuristics  []Heuristic
	MaxReparses int
}

// DefaultEngine returns the baseline heuristic pipeline used when a caller
// doesn't supply a custom one.
func DefaultEngine() *Engine {
	return &Engine{
		Heuristics: []Heuristic{
			{Name: "escape-invalid-lt", Phase: PhasePreParse, Apply: escapeInvalidLT},
			{Name: "normalize-close-tags", Phase: PhasePreParse, Apply: normalizeCloseTags},
			{Name: "quote-unquoted-equals", Phase: PhasePreParse, Apply: quoteBareEquals},
			{Name: "strip-markdown-fence", Phase: PhaseFallback, Apply: stripMarkdownFence},
			{Name: "close-unclosed-root", Phase: PhaseFallback, Apply: closeUnclosedRoot},
			{Name: "drop-duplicate-string-tags", Phase: PhasePostParse, Apply: dropDuplicateStringTags},
		},
		MaxReparses: 2,
	}
}

func (e *Engine) phaseHeuristics(p Phase) []Heuristic {
	var out []Heuristic
	for _, h := range e.Heuristics {
		if h.Phase == p {
			out = append(out, h)
		}
	}
	return out
}

// Run executes all PreParse heuristics, tokenizes, and — if that fails to
// produce a root — runs rounds of Fallback heuristics (re-tokenizing after
// each full round, bounded by MaxReparses and stopping early when a round
// leaves the source unchanged) before finally running PostParse heuristics
// against whatever root was produced. Run takes no source text: its
// RepairContext starts with an empty Source, so only heuristics that supply
// text themselves can yield a root. Parse runs the same phases over the
// caller's xml.
func (e *Engine) Run(opts Options) (*Node, error) {
	ctx := &RepairContext{}

	for _, h := range e.phaseHeuristics(PhasePreParse) {
		if err := h.Apply(ctx); err != nil {
			return nil, err
		}
	}

	root, err := Tokenize([]byte(ctx.Source), opts)

	attempts := 0
	for (err != nil || root == nil) && attempts < e.MaxReparses {
		attempts++
		progressed := false
		for _, h := range e.phaseHeuristics(PhaseFallback) {
			before := ctx.Source
			if herr := h.Apply(ctx); herr == nil && ctx.Source != before {
				progressed = true
			}
		}
		if !progressed {
			break
		}
		root, err = Tokenize([]byte(ctx.Source), opts)
	}

	if err != nil {
		return nil, err
	}

	ctx.Root = root
	for _, h := range e.phaseHeuristics(PhasePostParse) {
		if err := h.Apply(ctx); err != nil {
			return nil, err
		}
	}

	return ctx.Root, nil
}

// lookaroundRegexes are compiled once; dlclark/regexp2 is used here because
// these heuristics rely on negative lookahead to avoid re-escaping entities
// that are already well-formed, which RE2-based regexp cannot express.
var (
	bareAmpersand    = regexp2.MustCompile(`&(?!amp;|lt;|gt;|quot;|apos;|#\d+;|#x[0-9a-fA-F]+;)`, 0)
	duplicateCloseRe = regexp2.MustCompile(`(</(\w+)>)\s*\1`, 0)
)

// escapeInvalidLT escapes bare '&' characters that don't begin a real XML
// entity, a frequent artifact of models writing "A & B" inside tag content
// without escaping it.
func escapeInvalidLT(ctx *RepairContext) error {
	replaced, err := bareAmpersand.Replace(ctx.Source, "&amp;", -1, -1)
	if err != nil {
		return err
	}
	ctx.Source = replaced
	return nil
}

// normalizeCloseTags collapses an immediately repeated closing tag
// (`</foo></foo>`) into a single one, a duplication some models emit when
// they "correct themselves" mid-generation.
func normalizeCloseTags(ctx *RepairContext) error {
	replaced, err := duplicateCloseRe.Replace(ctx.Source, "$1", -1, -1)
	if err != nil {
		return err
	}
	ctx.Source = replaced
	return nil
}

// quoteBareEquals is a conservative no-op placeholder for attribute
// normalization already handled by the tokenizer's tolerant attribute
// scanner; kept as a named pipeline stage so custom Engines can override it
// independently of tokenization.
func quoteBareEquals(ctx *RepairContext) error {
	return nil
}

// stripMarkdownFence removes a leading/trailing ``` fence a model
// sometimes wraps XML output in, despite being asked for bare tags.
func stripMarkdownFence(ctx *RepairContext) error {
	s := strings.TrimSpace(ctx.Source)
	if strings.HasPrefix(s, "```") {
		if nl := strings.IndexByte(s, '\n'); nl != -1 {
			s = s[nl+1:]
		}
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	ctx.Source = s
	return nil
}

// closeUnclosedRoot appends a best-effort closing tag for the first opened
// element if the source ends mid-element (a stream cut off before
// completion), taking the tag name from the first '<name' occurrence.
func closeUnclosedRoot(ctx *RepairContext) error {
	s := ctx.Source
	start := strings.IndexByte(s, '<')
	if start == -1 {
		return nil
	}

	end := start + 1
	for end < len(s) && s[end] != ' ' && s[end] != '>' && s[end] != '\t' && s[end] != '\n' {
		end++
	}
	name := s[start+1 : end]
	if name == "" || strings.ContainsAny(name, "/!?") {
		return nil
	}

	if strings.Contains(s, "</"+name+">") {
		return nil
	}

	ctx.Source = s + "</" + name + ">"
	return nil
}

// dropDuplicateStringTags is a no-op post-parse stage: it neither drops nor
// reports anything. Repeated string-typed tags are detected by Parse itself
// when ParseOptions.StringTag is set (checkDuplicateStringTags in
// facade.go), which returns ErrDuplicateStringTag.
func dropDuplicateStringTags(ctx *RepairContext) error {
	return nil
}
