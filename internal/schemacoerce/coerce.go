package schemacoerce

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Coerce converts value (typically a string pulled out of tolerant XML, or
// a json.Unmarshal result already typed as string/float64/map/slice) into
// the type schema declares, applying — in order — the string-to-JSON
// fallback, type coercion, the unwrap-wrapper heuristic,
// parallel-array-of-objects expansion, and strict-object key renaming. It
// never returns an error: when a rule doesn't apply or schema gives no
// guidance, Coerce returns its input unchanged.
func Coerce(value any, schema *Schema) any {
	if schema == nil || schema.IsUnconstrained() {
		return value
	}

	t := schema.Type()

	// A model emitting a JSON-in-tag payload sometimes double-encodes a
	// nested object/array argument as a JSON string rather than inline
	// structure (or an XML leaf ends up holding one verbatim). Parse it
	// before falling into the type switch below.
	if s, ok := value.(string); ok && (t == "object" || t == "array") {
		if parsed, ok := parseJSONString(s); ok {
			value = parsed
		}
	}

	switch t {
	case "string":
		return coerceString(value, schema)
	case "number":
		return coerceNumber(value)
	case "integer":
		return coerceInteger(value)
	case "boolean":
		return coerceBoolean(value)
	case "array":
		return coerceArray(value, schema)
	case "object", "":
		if schema.HasAnyProperties() {
			return coerceObject(value, schema)
		}
		return value
	default:
		return value
	}
}

// parseJSONString attempts strict json.Unmarshal first, then retries after
// converting single quotes to double quotes — a tolerant fallback for
// models that emit JS-object-literal-style quoting around a nested
// argument.
func parseJSONString(s string) (any, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return nil, false
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return v, true
	}

	relaxed := strings.ReplaceAll(trimmed, "'", "\"")
	if err := json.Unmarshal([]byte(relaxed), &v); err == nil {
		return v, true
	}

	return nil, false
}

func coerceString(value any, schema *Schema) any {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(v)
	default:
		return value
	}
	return applyEnum(s, schema)
}

// applyEnum replaces s with its matching enum member when schema declares
// an enum, canonicalizing whitespace and a single layer of quoting on both
// sides of the comparison so '"paid"' and " paid " both match "paid".
// Ambiguous (more than one canonical match) or unmatched values are
// returned unchanged.
func applyEnum(s string, schema *Schema) string {
	enum := schema.Enum()
	if len(enum) == 0 {
		return s
	}

	canon := canonicalizeEnumCandidate(s)
	match := ""
	matches := 0
	for _, e := range enum {
		if canonicalizeEnumCandidate(e) == canon {
			match = e
			matches++
		}
	}
	if matches == 1 {
		return match
	}
	return s
}

func canonicalizeEnumCandidate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') {
			s = s[1 : len(s)-1]
		}
	}
	return s
}

func coerceNumber(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsInf(f, 0) {
		return value
	}
	return f
}

func coerceInteger(value any) any {
	switch v := value.(type) {
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return float64(i)
		}
		return value
	case float64:
		return v
	default:
		return value
	}
}

func coerceBoolean(value any) any {
	s, ok := value.(string)
	if !ok {
		return value
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return value
	}
}

// coerceArray applies the unwrap-wrapper heuristic and parallel-array
// expansion before coercing each element against schema.Items() (or the
// matching positional schema.PrefixItems() entry, for tuple-validated
// arrays).
func coerceArray(value any, schema *Schema) any {
	items := schema.Items()
	prefix := schema.PrefixItems()

	switch v := value.(type) {
	case []any:
		out := make([]any, len(v))
		for i, el := range v {
			out[i] = coerceArrayElement(i, el, items, prefix)
		}
		return out

	case map[string]any:
		return unwrapToArray(v, items, prefix)

	default:
		// A bare scalar (string or otherwise) where an array was expected
		// is wrapped in a one-element array rather than discarded,
		// matching how XML naturally collapses a single repeated-tag
		// group down to one node.
		return []any{coerceArrayElement(0, value, items, prefix)}
	}
}

func coerceArrayElement(i int, el any, items *Schema, prefix []*Schema) any {
	if i < len(prefix) && prefix[i] != nil {
		return Coerce(el, prefix[i])
	}
	return Coerce(el, items)
}

// unwrapToArray implements the unwrap-wrapper heuristic (spec.md §4.3,
// "the central coercion rule"): a single XML container element for a
// repeated field tokenizes as one object rather than a top-level array,
// since XML has no native array syntax. Given a map, in order:
//
//  1. A literal "item" key is always unwrapped (the
//     "<items><item>..</item></items>" convention some models use
//     regardless of the declared property name).
//  2. If every key is a decimal-digit string (an object-as-array encoding
//     like {"0": ..., "1": ...}), unwrap sorted numerically by key.
//  3. If the map has exactly one key, and the items schema neither
//     declares that key as a property nor allows arbitrary additional
//     properties (and isn't itself unconstrained), treat the lone value
//     as the array's contents — a wrapper tag the model invented around
//     the real repeated content.
//  4. If the items schema is a strict object and v is a map of parallel,
//     equal-length arrays keyed by its declared properties (spec.md §8's
//     XML-protocol-parallel-arrays scenario — e.g. {field: [...],
//     op: [...], value: [...]}), expand column-wise into an array of
//     objects, one per index.
//  5. Otherwise, wrap the whole map as a single array element verbatim.
func unwrapToArray(v map[string]any, items *Schema, prefix []*Schema) any {
	if val, ok := v["item"]; ok && len(v) == 1 {
		return expandUnwrapped(val, items, prefix)
	}

	if sorted, ok := asDecimalKeyedArray(v); ok {
		out := make([]any, len(sorted))
		for i, el := range sorted {
			out[i] = coerceArrayElement(i, el, items, prefix)
		}
		return out
	}

	if len(v) == 1 {
		for k, val := range v {
			if items == nil || (!items.HasProperty(k) && !items.AllowsArbitraryProperties() && !items.IsUnconstrained()) {
				return expandUnwrapped(val, items, prefix)
			}
		}
	}

	if arr, ok := asParallelArrays(v, items); ok {
		return arr
	}

	return []any{Coerce(v, items)}
}

// expandUnwrapped handles the value found behind a single-key wrapper: a
// slice unwraps directly to the array; a scalar or object becomes its sole
// element.
func expandUnwrapped(val any, items *Schema, prefix []*Schema) any {
	if arr, ok := val.([]any); ok {
		out := make([]any, len(arr))
		for i, el := range arr {
			out[i] = coerceArrayElement(i, el, items, prefix)
		}
		return out
	}
	return []any{coerceArrayElement(0, val, items, prefix)}
}

// asDecimalKeyedArray reports whether every key of v is a base-10 integer
// string, returning its values ordered numerically by key if so.
func asDecimalKeyedArray(v map[string]any) ([]any, bool) {
	if len(v) == 0 {
		return nil, false
	}
	keys := make([]string, 0, len(v))
	for k := range v {
		if !strconvIsInt(k) {
			return nil, false
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.ParseInt(keys[i], 10, 64)
		b, _ := strconv.ParseInt(keys[j], 10, 64)
		return a < b
	})
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = v[k]
	}
	return out, true
}

// asParallelArrays reports whether v is keyed entirely by items's declared
// properties with every value a slice of equal, non-zero length — the
// "parallel arrays" encoding a morph-XML tool call produces for a repeated
// child element with multiple leaf fields — returning the column-wise
// expansion into one object per index if so.
func asParallelArrays(v map[string]any, items *Schema) ([]any, bool) {
	if items == nil || !items.IsStrictObject() || len(v) == 0 {
		return nil, false
	}

	n := -1
	for k, val := range v {
		if !items.HasProperty(k) {
			return nil, false
		}
		arr, ok := val.([]any)
		if !ok {
			return nil, false
		}
		if n == -1 {
			n = len(arr)
		}
		if len(arr) != n {
			return nil, false
		}
	}
	if n <= 0 {
		return nil, false
	}

	out := make([]any, n)
	for i := 0; i < n; i++ {
		row := make(map[string]any, len(v))
		for k, val := range v {
			row[k] = val.([]any)[i]
		}
		out[i] = Coerce(row, items)
	}
	return out, true
}

// coerceObject applies strict-object key renaming before recursively
// coercing each declared property's value. Property lookup (schema.Property)
// already falls through patternProperties and anyOf/oneOf/allOf branches, so
// keys matched only through those paths are still coerced correctly.
func coerceObject(value any, schema *Schema) any {
	m, ok := value.(map[string]any)
	if !ok {
		return value
	}

	m = maybeRenameKeys(m, schema)

	out := make(map[string]any, len(m))
	for k, val := range m {
		prop := schema.Property(k)
		if prop == nil {
			out[k] = val
			continue
		}
		out[k] = Coerce(val, prop)
	}
	return out
}

// maybeRenameKeys renames keys of m to their canonical schema property name
// when the schema is a strict (closed) object and exactly one declared
// property matches a given key under canonicalization (snake_case vs
// camelCase, singular vs plural). Renaming never fires against an open
// schema, since additionalProperties:true means an unrecognized key might
// be intentional rather than a model's naming slip.
func maybeRenameKeys(m map[string]any, schema *Schema) map[string]any {
	if !schema.IsStrictObject() {
		return m
	}

	propNames := schema.PropertyNames()
	canonToProp := make(map[string]string, len(propNames))
	for _, p := range propNames {
		canonToProp[canonicalKey(p)] = p
	}

	renamed := make(map[string]any, len(m))
	for k, v := range m {
		if schema.HasProperty(k) {
			renamed[k] = v
			continue
		}
		if target, ok := canonToProp[canonicalKey(k)]; ok {
			renamed[target] = v
			continue
		}
		renamed[k] = v
	}
	return renamed
}
