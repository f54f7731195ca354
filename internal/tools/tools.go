// Package tools defines the capability set shared by all agent tools and the
// registry the agent dispatches through. Heavy tools (web search, LinkedIn,
// visual QA) are external collaborators implementing the same interface; the
// scheduler and meeting tools ship here because they drive core subsystems.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/ignite/mailagent/internal/citations"
	"github.com/ignite/mailagent/internal/mail"
	"github.com/ignite/mailagent/internal/model"
)

// CitationBlock carries the sources a tool consulted, merged into the
// request ledger by the agent loop.
type CitationBlock struct {
	Sources           []*citations.Source `json:"sources,omitempty"`
	ReferencesSection string              `json:"references_section,omitempty"`
}

// Output is the structured result of one tool call.
type Output struct {
	Content   string                 `json:"content"`
	Citations *CitationBlock         `json:"citations,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Tool is the capability every agent tool implements.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]interface{}
	Forward(ctx context.Context, rctx *mail.RequestContext, input json.RawMessage) (*Output, error)
}

// Registry maps tool names to implementations. Registration happens at
// startup; lookup is read-mostly.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Re-registering a name replaces the implementation.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Defs returns model tool declarations for the intersection of the allowed
// set and the registered tools, in stable name order.
func (r *Registry) Defs(allowed map[string]bool) []model.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if allowed[name] {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	defs := make([]model.ToolDef, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, model.ToolDef{
			Type: "function",
			Function: model.ToolFunction{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.InputSchema(),
			},
		})
	}
	return defs
}

// Dispatch runs a named tool against raw JSON arguments and serializes the
// structured output back to JSON for the conversation. Tool failures are
// wrapped as ToolError so the loop records and continues.
func (r *Registry) Dispatch(ctx context.Context, rctx *mail.RequestContext, name string, arguments string) (string, *Output, error) {
	t := r.Get(name)
	if t == nil {
		return "", nil, &mail.ToolError{Tool: name, Err: fmt.Errorf("not registered")}
	}
	out, err := t.Forward(ctx, rctx, json.RawMessage(arguments))
	if err != nil {
		return "", nil, &mail.ToolError{Tool: name, Err: err}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", nil, &mail.ToolError{Tool: name, Err: fmt.Errorf("marshal output: %w", err)}
	}
	return string(data), out, nil
}
