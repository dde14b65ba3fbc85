package rxml

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrDuplicateStringTag is returned by Parse when a schema marks a field as
// a plain string and the source XML repeats that field's tag under the same
// parent more than once — ambiguous input that policy refuses to guess at.
var ErrDuplicateStringTag = errors.New("rxml: duplicate string-typed tag")

// ErrNoElement is returned when the source contains no parseable element at
// all, even after the repair pipeline has run.
var ErrNoElement = errors.New("rxml: no element found")

// ParseOptions configures Parse.
type ParseOptions struct {
	RootTag   string
	Engine    *Engine // defaults to DefaultEngine() when nil
	Repair    bool    // whether to run the heuristic pipeline at all; the zero value (false) skips it
	StringTag func(parent, tag string) bool
}

// Parse tokenizes xml (running the repair pipeline first only when
// opts.Repair is true), and returns the parsed *Node. opts.StringTag, when
// non-nil, is consulted to detect duplicate string-typed child tags and
// return ErrDuplicateStringTag; when it is nil, repeated tags are all kept
// in the tree.
func Parse(xml []byte, opts ParseOptions) (*Node, error) {
	engine := opts.Engine
	if engine == nil {
		engine = DefaultEngine()
	}

	var root *Node
	var err error

	if opts.Repair {
		// Seed the engine's context with the caller's source by running it
		// through Run, which starts from ctx.Source == "" — so instead run
		// preparse heuristics manually seeded with xml.
		ctx := &RepairContext{Source: string(xml)}
		for _, h := range engine.phaseHeuristics(PhasePreParse) {
			if e := h.Apply(ctx); e != nil {
				return nil, e
			}
		}

		root, err = Tokenize([]byte(ctx.Source), Options{RootTag: opts.RootTag})

		attempts := 0
		for (err != nil || root == nil) && attempts < engine.MaxReparses {
			attempts++
			progressed := false
			for _, h := range engine.phaseHeuristics(PhaseFallback) {
				before := ctx.Source
				if herr := h.Apply(ctx); herr == nil && ctx.Source != before {
					progressed = true
				}
			}
			if !progressed {
				break
			}
			root, err = Tokenize([]byte(ctx.Source), Options{RootTag: opts.RootTag})
		}

		if err == nil && root != nil {
			ctx.Root = root
			for _, h := range engine.phaseHeuristics(PhasePostParse) {
				if e := h.Apply(ctx); e != nil {
					return nil, e
				}
			}
			root = ctx.Root
		}
	} else {
		root, err = Tokenize(xml, Options{RootTag: opts.RootTag})
	}

	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, ErrNoElement
	}

	if opts.StringTag != nil {
		if dupErr := checkDuplicateStringTags(root, opts.StringTag); dupErr != nil {
			return nil, dupErr
		}
	}

	return root, nil
}

func checkDuplicateStringTags(n *Node, isStringTag func(parent, tag string) bool) error {
	counts := map[string]int{}
	for _, c := range n.Children {
		cn, ok := c.(*Node)
		if !ok {
			continue
		}
		if isStringTag(n.TagName, cn.TagName) {
			counts[cn.TagName]++
			if counts[cn.TagName] > 1 {
				return fmt.Errorf("%w: <%s> under <%s>", ErrDuplicateStringTag, cn.TagName, n.TagName)
			}
		}
		if err := checkDuplicateStringTags(cn, isStringTag); err != nil {
			return err
		}
	}
	return nil
}

// StringifyOptions configures Stringify.
type StringifyOptions struct {
	Indent string // if non-empty, pretty-print with this indent unit
}

// Stringify renders value (a scalar, []any, map[string]any, or nested
// combination thereof) as an XML element named rootTag, suitable for
// formatting a tool call or tool response in the XML-element protocol.
func Stringify(rootTag string, value any, opts StringifyOptions) ([]byte, error) {
	var b strings.Builder
	writeElement(&b, rootTag, value, opts, 0)
	return []byte(b.String()), nil
}

func writeElement(b *strings.Builder, tag string, value any, opts StringifyOptions, depth int) {
	indent, nl := "", ""
	if opts.Indent != "" {
		indent = strings.Repeat(opts.Indent, depth)
		nl = "\n"
	}

	switch v := value.(type) {
	case map[string]any:
		b.WriteString(indent)
		b.WriteString("<" + tag + ">" + nl)
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			writeElement(b, k, v[k], opts, depth+1)
		}
		b.WriteString(indent)
		b.WriteString("</" + tag + ">" + nl)

	case []any:
		for _, item := range v {
			writeElement(b, tag, item, opts, depth)
		}

	case nil:
		b.WriteString(indent)
		b.WriteString("<" + tag + "></" + tag + ">" + nl)

	default:
		b.WriteString(indent)
		b.WriteString("<" + tag + ">")
		b.WriteString(escapeText(fmt.Sprint(v)))
		b.WriteString("</" + tag + ">" + nl)
	}
}

func escapeText(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
	)
	return r.Replace(s)
}
