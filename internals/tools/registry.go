package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jadenj13/deskdroid/internals/llm"
)

var (
	ErrDuplicateTool = errors.New("duplicate tool name")
	ErrInvalidTool   = errors.New("invalid tool")
)

// Registry maps tool names to tools. It is immutable after construction and
// safe for concurrent use.
type Registry struct {
	tools    []Tool
	byName   map[string]Tool
	schemas  map[string]*jsonschema.Schema
	validate bool
	log      *slog.Logger
}

type RegistryOption func(*Registry)

// WithSchemaValidation checks every input against the tool's declared schema
// before Execute. A mismatch becomes an error Result.
func WithSchemaValidation() RegistryOption {
	return func(r *Registry) { r.validate = true }
}

func WithLogger(log *slog.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

func NewRegistry(tools []Tool, opts ...RegistryOption) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]Tool, len(tools)),
		schemas: make(map[string]*jsonschema.Schema),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}

	for _, t := range tools {
		if t == nil || t.Name() == "" {
			return nil, fmt.Errorf("%w: tool has no name", ErrInvalidTool)
		}
		name := t.Name()
		if _, ok := r.byName[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateTool, name)
		}
		r.byName[name] = t
		r.tools = append(r.tools, t)

		if r.validate {
			if _, isDisplay := t.(DisplayTool); isDisplay && len(t.Schema()) == 0 {
				continue
			}
			schema, err := jsonschema.CompileString(name+".schema.json", string(t.Schema()))
			if err != nil {
				return nil, fmt.Errorf("%w: %s: compile schema: %v", ErrInvalidTool, name, err)
			}
			r.schemas[name] = schema
		}
	}
	return r, nil
}

// Declarations returns one declaration per tool in registration order.
func (r *Registry) Declarations() []llm.ToolDeclaration {
	out := make([]llm.ToolDeclaration, 0, len(r.tools))
	for _, t := range r.tools {
		d := llm.ToolDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Schema(),
		}
		if dt, ok := t.(DisplayTool); ok {
			d.Display = dt.Display()
		}
		out = append(out, d)
	}
	return out
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Name())
	}
	return out
}

func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Invoke runs the named tool. Unknown names, invalid input and panics all
// come back as error Results.
func (r *Registry) Invoke(ctx context.Context, name string, input json.RawMessage) (res Result) {
	t, ok := r.byName[name]
	if !ok {
		return Errorf("unknown tool: %s", name)
	}

	if schema, ok := r.schemas[name]; ok {
		if err := validateInput(schema, input); err != nil {
			return Errorf("invalid input for %s: %v", name, err)
		}
	}

	defer func() {
		if p := recover(); p != nil {
			r.log.Error("tool panicked", "tool", name, "panic", p)
			res = Errorf("tool %s failed: %v", name, p)
		}
	}()
	return t.Execute(ctx, input)
}

func validateInput(schema *jsonschema.Schema, input json.RawMessage) error {
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	dec := json.NewDecoder(bytes.NewReader(input))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return schema.Validate(v)
}
