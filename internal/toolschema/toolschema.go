// Package toolschema compiles a tool's inputSchema at registration time so
// structurally invalid schemas are rejected early, before any generation
// happens, rather than surfacing as confusing coercion failures later. It
// does not validate tool-call output against the schema: that remains a
// deliberate non-goal of the middleware this package supports.
package toolschema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/mihaisavezi/toolcall-bridge/internal/schemacoerce"
)

// Compiled pairs a tool's raw schema with its compiled form.
type Compiled struct {
	Raw      map[string]any
	compiled *jsonschema.Schema
}

// Schema returns a *schemacoerce.Schema view over this compiled schema.
func (c *Compiled) Schema() *schemacoerce.Schema {
	return schemacoerce.FromCompiled(c.Raw, c.compiled)
}

// Compile validates and compiles a raw JSON-Schema document for a tool's
// inputSchema, returning an error that names the offending tool if
// compilation fails.
func Compile(toolName string, raw map[string]any) (*Compiled, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("toolschema: marshal schema for %q: %w", toolName, err)
	}

	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("toolschema: invalid schema for %q: %w", toolName, err)
	}

	c := jsonschema.NewCompiler()
	resource := "mem://" + toolName + ".json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, fmt.Errorf("toolschema: add resource for %q: %w", toolName, err)
	}

	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("toolschema: compile schema for %q: %w", toolName, err)
	}

	return &Compiled{Raw: raw, compiled: compiled}, nil
}

// Registry holds compiled schemas for every registered tool, keyed by tool
// name.
type Registry struct {
	tools map[string]*Compiled
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]*Compiled{}}
}

// Register compiles and stores raw as the schema for name, replacing any
// existing entry.
func (r *Registry) Register(name string, raw map[string]any) error {
	c, err := Compile(name, raw)
	if err != nil {
		return err
	}
	r.tools[name] = c
	return nil
}

// Get returns the compiled schema for name, or nil if it was never
// registered.
func (r *Registry) Get(name string) *Compiled {
	return r.tools[name]
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}
