// Package rxml implements a tolerant XML tokenizer and a heuristic repair
// pipeline for XML fragments emitted by text-only language models, which
// routinely omit closing tags, leave attribute values unquoted, or emit
// stray '<'/'&' characters that a strict parser like encoding/xml rejects
// outright.
package rxml

import (
	"strings"
)

// Node is one element in the tolerant DOM. A child is either *Node or a
// plain string (text content).
type Node struct {
	TagName    string
	Attributes map[string]*string
	Children   []any

	// Raw holds the unmodified source text of this node's opening tag
	// (e.g. `<city>`); it does not include the element's content or its
	// closing tag.
	Raw string
}

// Text returns the concatenation of all direct string children.
func (n *Node) Text() string {
	var b strings.Builder
	for _, c := range n.Children {
		if s, ok := c.(string); ok {
			b.WriteString(s)
		}
	}
	return b.String()
}

// Child returns the first child element with the given tag name, if any.
func (n *Node) Child(tag string) *Node {
	for _, c := range n.Children {
		if cn, ok := c.(*Node); ok && cn.TagName == tag {
			return cn
		}
	}
	return nil
}

// ChildrenNamed returns every child element with the given tag name, in
// document order.
func (n *Node) ChildrenNamed(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if cn, ok := c.(*Node); ok && cn.TagName == tag {
			out = append(out, cn)
		}
	}
	return out
}

// Options configures the tokenizer.
type Options struct {
	// RootTag, if non-empty, tokenizes only the first element with this
	// tag name and ignores surrounding text, matching the behavior callers
	// need when a model wraps a single tool call in prose.
	RootTag string
}

type tokenKind int

const (
	tokOpen tokenKind = iota
	tokClose
	tokSelfClose
	tokText
)

type token struct {
	kind  tokenKind
	name  string
	attrs map[string]*string
	text  string
	raw   string
}

// Tokenize scans src and returns the first parsed element, or an error if no
// element could be found at all. It never recurses: nesting is tracked with
// an explicit stack so pathologically deep or unbalanced input cannot blow
// the Go call stack.
func Tokenize(src []byte, opts Options) (*Node, error) {
	toks, err := lex(string(src))
	if err != nil {
		return nil, err
	}

	root, _, err := buildTree(toks, opts.RootTag)
	if err != nil {
		return nil, err
	}

	if root == nil {
		return nil, ErrNoElement
	}

	return root, nil
}

// lex performs a single linear pass turning src into a token stream,
// tolerating CDATA sections, DOCTYPE/processing-instruction noise, and
// unescaped '&' that doesn't begin a known entity.
func lex(src string) ([]token, error) {
	var toks []token
	i := 0
	n := len(src)

	flushText := func(start, end int) {
		if end > start {
			toks = append(toks, token{kind: tokText, text: unescapeEntities(src[start:end])})
		}
	}

	textStart := 0

	for i < n {
		if src[i] != '<' {
			i++
			continue
		}

		flushText(textStart, i)

		if strings.HasPrefix(src[i:], "<![CDATA[") {
			end := strings.Index(src[i+9:], "]]>")
			if end == -1 {
				toks = append(toks, token{kind: tokText, text: src[i+9:]})
				i = n
				textStart = n
				break
			}
			toks = append(toks, token{kind: tokText, text: src[i+9 : i+9+end]})
			i = i + 9 + end + 3
			textStart = i
			continue
		}

		if strings.HasPrefix(src[i:], "<!--") {
			end := strings.Index(src[i+4:], "-->")
			if end == -1 {
				i = n
				textStart = n
				break
			}
			i = i + 4 + end + 3
			textStart = i
			continue
		}

		if strings.HasPrefix(src[i:], "<!") || strings.HasPrefix(src[i:], "<?") {
			end := strings.IndexByte(src[i:], '>')
			if end == -1 {
				i = n
				textStart = n
				break
			}
			i = i + end + 1
			textStart = i
			continue
		}

		end := strings.IndexByte(src[i:], '>')
		if end == -1 {
			// Unterminated tag: treat the rest as text, a common model
			// truncation artifact mid-stream.
			toks = append(toks, token{kind: tokText, text: src[i:]})
			i = n
			textStart = n
			break
		}

		tagBody := src[i+1 : i+end]
		raw := src[i : i+end+1]
		i = i + end + 1
		textStart = i

		if strings.HasPrefix(tagBody, "/") {
			toks = append(toks, token{kind: tokClose, name: strings.TrimSpace(tagBody[1:]), raw: raw})
			continue
		}

		selfClose := strings.HasSuffix(tagBody, "/")
		if selfClose {
			tagBody = tagBody[:len(tagBody)-1]
		}

		name, attrs := parseTagBody(tagBody)
		if name == "" {
			// A bare '<' not starting a real tag (e.g. "a < b"): treat as
			// literal text rather than failing the whole parse.
			toks = append(toks, token{kind: tokText, text: raw})
			continue
		}

		kind := tokOpen
		if selfClose {
			kind = tokSelfClose
		}

		toks = append(toks, token{kind: kind, name: name, attrs: attrs, raw: raw})
	}

	flushText(textStart, n)

	return toks, nil
}

func parseTagBody(body string) (string, map[string]*string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return "", nil
	}

	sp := strings.IndexAny(body, " \t\r\n")
	var name, rest string
	if sp == -1 {
		name = body
	} else {
		name = body[:sp]
		rest = body[sp+1:]
	}

	if name == "" {
		return "", nil
	}

	attrs := parseAttributes(rest)

	return name, attrs
}

// parseAttributes tolerates unquoted, single-quoted, and double-quoted
// values, and bare boolean attributes with no value at all.
func parseAttributes(s string) map[string]*string {
	attrs := map[string]*string{}
	i := 0
	n := len(s)

	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}

		keyStart := i
		for i < n && s[i] != '=' && !isSpace(s[i]) {
			i++
		}
		key := s[keyStart:i]
		if key == "" {
			i++
			continue
		}

		for i < n && isSpace(s[i]) {
			i++
		}

		if i >= n || s[i] != '=' {
			attrs[key] = nil
			continue
		}
		i++ // consume '='

		for i < n && isSpace(s[i]) {
			i++
		}

		if i >= n {
			attrs[key] = strPtr("")
			break
		}

		if s[i] == '"' || s[i] == '\'' {
			quote := s[i]
			i++
			valStart := i
			for i < n && s[i] != quote {
				i++
			}
			val := unescapeEntities(s[valStart:i])
			attrs[key] = &val
			if i < n {
				i++
			}
			continue
		}

		valStart := i
		for i < n && !isSpace(s[i]) {
			i++
		}
		val := unescapeEntities(s[valStart:i])
		attrs[key] = &val
	}

	return attrs
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

func strPtr(s string) *string { return &s }

func unescapeEntities(s string) string {
	if !strings.ContainsRune(s, '&') {
		return s
	}
	r := strings.NewReplacer(
		"&lt;", "<",
		"&gt;", ">",
		"&amp;", "&",
		"&quot;", `"`,
		"&apos;", "'",
	)
	return r.Replace(s)
}

// stackFrame tracks an in-progress element while buildTree walks the token
// stream without recursion.
type stackFrame struct {
	node *Node
}

// buildTree consumes toks and assembles the DOM. If rootTag is non-empty,
// text and elements before the first matching open tag are discarded and
// the returned node is that element; otherwise the first top-level element
// encountered is returned (subsequent siblings are discarded — callers that
// need every top-level element should call buildTree repeatedly over the
// remaining token slice, which buildTree returns as its second result).
func buildTree(toks []token, rootTag string) (*Node, []token, error) {
	var stack []stackFrame
	var root *Node

	for idx := 0; idx < len(toks); idx++ {
		t := toks[idx]

		switch t.kind {
		case tokText:
			if len(stack) > 0 {
				top := stack[len(stack)-1].node
				top.Children = append(top.Children, t.text)
			} else if root != nil {
				// text after the root closed; ignore (trailing prose)
				continue
			}

		case tokOpen, tokSelfClose:
			if root != nil && len(stack) == 0 {
				// A second top-level element starts; stop here and let the
				// caller decide whether to re-tokenize the remainder.
				return root, toks[idx:], nil
			}

			if rootTag != "" && root == nil && len(stack) == 0 && t.name != rootTag {
				continue
			}

			node := &Node{TagName: t.name, Attributes: t.attrs, Raw: t.raw}

			if len(stack) > 0 {
				top := stack[len(stack)-1].node
				top.Children = append(top.Children, node)
			} else if root == nil {
				root = node
			}

			if t.kind == tokOpen {
				stack = append(stack, stackFrame{node: node})
			}

		case tokClose:
			if len(stack) == 0 {
				// Stray close tag with nothing open: ignore, a common
				// model hallucination of an extra </tag>.
				continue
			}

			// Pop until we find a matching open tag (tolerates
			// mismatched/missing closes by closing intermediate frames
			// implicitly), or pop exactly one frame if nothing matches.
			matchIdx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].node.TagName == t.name {
					matchIdx = i
					break
				}
			}

			if matchIdx == -1 {
				// No matching open tag anywhere on the stack: ignore the
				// stray close rather than discarding legitimate nesting.
				continue
			}

			stack = stack[:matchIdx]
		}
	}

	return root, nil, nil
}
