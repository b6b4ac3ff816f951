// Package tools defines the Tool Registry: passive descriptors for the
// capabilities an agent exposes to its decision-maker, independent of any
// particular LLM wire format.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Def describes a single tool: its name, its JSON Schema input shape, a
// natural-language description surfaced to the decision-maker, and the
// handler invoked when the decision-maker requests it.
type Def struct {
	Name        string
	Description string
	// InputSchema is a JSON Schema object (as a map, so it serializes
	// directly into a decision-maker request without an intermediate type).
	InputSchema map[string]any
	Handler     HandlerFunc
}

// HandlerFunc executes a tool call given its raw JSON input.
type HandlerFunc func(ctx context.Context, input json.RawMessage) (Result, error)

// Result is the tagged-variant outcome of a tool call. Exactly one of Text,
// JSON, or Content is meaningful, selected by Kind.
type Result struct {
	Kind Kind

	// Text holds the result for KindText: a plain string, truncated by the
	// executor before being shown to the decision-maker.
	Text string

	// JSON holds the result for KindJSON: a structured value serialized as
	// a JSON object in the tool result.
	JSON any

	// Content holds the result for KindContent: a multimodal sequence (e.g.
	// a text block followed by an embedded image), used by tools such as
	// take_screenshot that must return both a textual summary and image
	// bytes in the same tool result.
	Content []ContentBlock
}

// Kind tags which field of Result is populated.
type Kind int

const (
	KindText Kind = iota
	KindJSON
	KindContent
)

// ContentBlock is one element of a multimodal tool result.
type ContentBlock struct {
	Type string // "text" or "image"

	Text string // set when Type == "text"

	// ImageMediaType and ImageBase64 are set when Type == "image".
	ImageMediaType string
	ImageBase64    string
}

// TextResult wraps a plain string as a Result.
func TextResult(text string) Result {
	return Result{Kind: KindText, Text: text}
}

// JSONResult wraps a structured value as a Result.
func JSONResult(v any) Result {
	return Result{Kind: KindJSON, JSON: v}
}

// Registry is an ordered collection of tool definitions, looked up by name
// at dispatch time.
type Registry struct {
	defs   []Def
	byName map[string]*Def
}

// NewRegistry builds a Registry from defs, rejecting duplicate names.
func NewRegistry(defs ...Def) (*Registry, error) {
	r := &Registry{
		defs:   make([]Def, len(defs)),
		byName: make(map[string]*Def, len(defs)),
	}
	copy(r.defs, defs)
	for i := range r.defs {
		d := &r.defs[i]
		if _, exists := r.byName[d.Name]; exists {
			return nil, fmt.Errorf("tools: duplicate tool name %q", d.Name)
		}
		r.byName[d.Name] = d
	}
	return r, nil
}

// Find looks up a tool definition by name.
func (r *Registry) Find(name string) (*Def, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// All returns the definitions in registration order, the order in which
// they are presented to the decision-maker.
func (r *Registry) All() []Def {
	return r.defs
}

// Dispatch invokes the named tool's handler with input. An unknown tool name
// returns a Go error; the executor reports any Dispatch error back to the
// decision-maker as a failed tool_result rather than aborting the run.
func (r *Registry) Dispatch(ctx context.Context, name string, input json.RawMessage) (Result, error) {
	d, ok := r.Find(name)
	if !ok {
		return Result{}, fmt.Errorf("tools: unknown tool %q", name)
	}
	return d.Handler(ctx, input)
}
