// Package schemacoerce coerces loosely-typed values — almost always strings
// extracted from tolerant XML or relaxed JSON — into the types a tool's
// JSON Schema declares, following a fixed, deterministic, side-effect-free
// set of rules. No rule here ever fails destructively: coercion always
// returns its best-effort value rather than an error, since the calling
// protocols have no channel to report a coercion failure back to the model
// mid-stream.
package schemacoerce

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Schema is a thin, memoizing wrapper over a tool's input schema. It can be
// built either from a raw map (the common case: a tool registered with a
// plain JSON Schema document) or from a compiled *jsonschema.Schema when a
// caller has already paid the compilation cost (see internal/toolschema).
//
// Some callers hand us a schema still wrapped in the Vercel AI SDK's
// {"jsonSchema": {...}} envelope (spec.md §4.3's "jsonSchema wrapper");
// every accessor below reads through effectiveRaw, which transparently
// unwraps it, so the rest of the package never has to think about it.
type Schema struct {
	raw      map[string]any
	compiled *jsonschema.Schema

	propCache map[string]bool
}

// New wraps a raw JSON-Schema-shaped map.
func New(raw map[string]any) *Schema {
	return &Schema{raw: raw, propCache: map[string]bool{}}
}

// FromCompiled wraps an already-compiled schema (see internal/toolschema),
// keeping the raw map alongside it for the coercion rules that need to walk
// arbitrary keys jsonschema.Schema doesn't expose directly (e.g. "items").
func FromCompiled(raw map[string]any, compiled *jsonschema.Schema) *Schema {
	return &Schema{raw: raw, compiled: compiled, propCache: map[string]bool{}}
}

// effectiveRaw returns the schema's raw map with the jsonSchema wrapper
// transparently unwrapped, per spec.md §4.3.
func (s *Schema) effectiveRaw() map[string]any {
	if s == nil || s.raw == nil {
		return nil
	}
	if wrapped, ok := s.raw["jsonSchema"].(map[string]any); ok {
		return wrapped
	}
	return s.raw
}

// Type returns the schema's declared "type" keyword. When "type" is absent,
// it is inferred from structural keywords: properties/patternProperties/an
// object-valued additionalProperties imply "object"; items/prefixItems
// imply "array". Returns "" when nothing suggests a type.
func (s *Schema) Type() string {
	raw := s.effectiveRaw()
	if raw == nil {
		return ""
	}
	if t, ok := raw["type"].(string); ok && t != "" {
		return t
	}
	if _, ok := raw["properties"]; ok {
		return "object"
	}
	if _, ok := raw["patternProperties"]; ok {
		return "object"
	}
	if ap, ok := raw["additionalProperties"].(map[string]any); ok && ap != nil {
		return "object"
	}
	if _, ok := raw["items"]; ok {
		return "array"
	}
	if _, ok := raw["prefixItems"]; ok {
		return "array"
	}
	return ""
}

// HasProperty reports whether the schema (assumed object-typed) declares
// the given property name, searching anyOf/oneOf/allOf branches as well as
// the schema's own "properties", memoized since callers probe this
// repeatedly per field during coercion.
func (s *Schema) HasProperty(name string) bool {
	if s == nil || s.raw == nil {
		return false
	}
	if v, ok := s.propCache[name]; ok {
		return v
	}
	v := schemaDeclaresKey(s.effectiveRaw(), name)
	s.propCache[name] = v
	return v
}

func schemaDeclaresKey(raw map[string]any, name string) bool {
	if raw == nil {
		return false
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		if _, ok := props[name]; ok {
			return true
		}
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		branches, ok := raw[k].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			if bm, ok := b.(map[string]any); ok && schemaDeclaresKey(bm, name) {
				return true
			}
		}
	}
	return false
}

// Property returns the sub-schema for a named property of an object schema,
// falling back to a matching patternProperties entry and then to
// anyOf/oneOf/allOf branches, in that order.
func (s *Schema) Property(name string) *Schema {
	if s == nil || s.raw == nil {
		return nil
	}
	return schemaForKey(s.effectiveRaw(), name)
}

func schemaForKey(raw map[string]any, name string) *Schema {
	if raw == nil {
		return nil
	}
	if props, ok := raw["properties"].(map[string]any); ok {
		if sub, ok := props[name].(map[string]any); ok {
			return New(sub)
		}
	}
	if pp, ok := raw["patternProperties"].(map[string]any); ok {
		for pattern, sub := range pp {
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			if re.MatchString(name) {
				if subMap, ok := sub.(map[string]any); ok {
					return New(subMap)
				}
			}
		}
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		branches, ok := raw[k].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			bm, ok := b.(map[string]any)
			if !ok {
				continue
			}
			if sub := schemaForKey(bm, name); sub != nil {
				return sub
			}
		}
	}
	return nil
}

// Items returns the sub-schema for an array schema's "items" keyword.
func (s *Schema) Items() *Schema {
	raw := s.effectiveRaw()
	if raw == nil {
		return nil
	}
	items, ok := raw["items"].(map[string]any)
	if !ok {
		return nil
	}
	return New(items)
}

// PrefixItems returns the positional sub-schemas for an array schema's
// "prefixItems" keyword (tuple validation), in declared order. A nil entry
// means that position's declared item wasn't itself a schema object.
func (s *Schema) PrefixItems() []*Schema {
	raw := s.effectiveRaw()
	if raw == nil {
		return nil
	}
	list, ok := raw["prefixItems"].([]any)
	if !ok {
		return nil
	}
	out := make([]*Schema, 0, len(list))
	for _, it := range list {
		if m, ok := it.(map[string]any); ok {
			out = append(out, New(m))
		} else {
			out = append(out, nil)
		}
	}
	return out
}

// Enum returns the schema's declared string enum members, if any.
func (s *Schema) Enum() []string {
	raw := s.effectiveRaw()
	if raw == nil {
		return nil
	}
	list, ok := raw["enum"].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, v := range list {
		if str, ok := v.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// AllowsArbitraryProperties reports whether the schema permits properties
// beyond its declared set — true unless additionalProperties is explicitly
// false at this level and no anyOf/oneOf/allOf branch relaxes that.
func (s *Schema) AllowsArbitraryProperties() bool {
	if s == nil || s.raw == nil {
		return true
	}
	return schemaAllowsArbitrary(s.effectiveRaw())
}

func schemaAllowsArbitrary(raw map[string]any) bool {
	if raw == nil {
		return true
	}
	ap, ok := raw["additionalProperties"].(bool)
	if !ok || ap {
		return true
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		branches, ok := raw[k].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			if bm, ok := b.(map[string]any); ok && schemaAllowsArbitrary(bm) {
				return true
			}
		}
	}
	return false
}

// IsStrictObject reports whether the schema is an object type with
// additionalProperties explicitly set to false — the signal used by the
// key-renaming coercion rule and the single-key-unwrap rule to decide
// whether guessing at a key is safe (renaming/unwrapping is only attempted
// against strict/closed schemas, to avoid ever inventing or discarding a
// property an open schema wasn't asking for).
func (s *Schema) IsStrictObject() bool {
	if s == nil || s.raw == nil {
		return false
	}
	if s.Type() != "object" && !s.HasAnyProperties() {
		return false
	}
	return !s.AllowsArbitraryProperties()
}

// HasAnyProperties reports whether the schema (or one of its
// anyOf/oneOf/allOf branches) declares a non-empty "properties" map, used
// as a fallback object-type signal for schemas that omit an explicit
// "type": "object".
func (s *Schema) HasAnyProperties() bool {
	return schemaHasAnyProperties(s.effectiveRaw())
}

func schemaHasAnyProperties(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	if props, ok := raw["properties"].(map[string]any); ok && len(props) > 0 {
		return true
	}
	if pp, ok := raw["patternProperties"].(map[string]any); ok && len(pp) > 0 {
		return true
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf"} {
		branches, ok := raw[k].([]any)
		if !ok {
			continue
		}
		for _, b := range branches {
			if bm, ok := b.(map[string]any); ok && schemaHasAnyProperties(bm) {
				return true
			}
		}
	}
	return false
}

// IsUnconstrained reports whether the schema places no type constraint at
// all — no "type", no structural keyword Type() infers from, and none of
// anyOf/oneOf/allOf — in which case coercion should leave the value
// untouched rather than guess.
func (s *Schema) IsUnconstrained() bool {
	raw := s.effectiveRaw()
	if raw == nil {
		return true
	}
	if s.Type() != "" {
		return false
	}
	for _, k := range []string{"anyOf", "oneOf", "allOf", "enum", "const"} {
		if _, ok := raw[k]; ok {
			return false
		}
	}
	return true
}

// PropertyNames returns the declared property names of an object schema, in
// no particular order.
func (s *Schema) PropertyNames() []string {
	raw := s.effectiveRaw()
	if raw == nil {
		return nil
	}
	props, _ := raw["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	return names
}

// canonicalKey normalizes a key for fuzzy matching: lowercase, strip
// underscores, strip a trailing 's' (singular/plural), used by the
// key-renaming coercion rule.
func canonicalKey(k string) string {
	k = strings.ToLower(k)
	k = strings.ReplaceAll(k, "_", "")
	k = strings.ReplaceAll(k, "-", "")
	k = strings.TrimSuffix(k, "s")
	return k
}

// strconvIsInt reports whether s parses cleanly as a base-10 integer.
func strconvIsInt(s string) bool {
	_, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return err == nil
}
