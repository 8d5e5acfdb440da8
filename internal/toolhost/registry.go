// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolhost executes tool calls on behalf of the chat orchestrator.
package toolhost

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Delimiter separates the client identifier from the tool name in a
// qualified tool name. Names containing it are rejected at registration so
// the split is never ambiguous.
const Delimiter = "--"

// =============================================================================
// TOOL IDENTITY
// =============================================================================

// ToolID identifies a tool by its owning client and its name.
type ToolID struct {
	Client string
	Name   string
}

// Qualified returns the "client--toolname" form of the id.
func (id ToolID) Qualified() string {
	return id.Client + Delimiter + id.Name
}

func (id ToolID) String() string { return id.Qualified() }

// ParseID splits a qualified tool name on the first delimiter. A name with
// no delimiter is treated as a bare tool name with an empty client.
func ParseID(qualified string) ToolID {
	client, name, found := strings.Cut(qualified, Delimiter)
	if !found {
		return ToolID{Name: qualified}
	}
	return ToolID{Client: client, Name: name}
}

// =============================================================================
// TOOL DEFINITION
// =============================================================================

// Func executes a tool. A returned error marks the call as failed; the error
// text is fed back to the model as the tool's response.
type Func func(ctx context.Context, args map[string]any) (string, error)

// Property describes one tool parameter using JSON Schema conventions.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum,omitempty"`
}

// Parameters is the JSON Schema object describing a tool's arguments.
type Parameters struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Definition describes one registered tool, as advertised to providers.
type Definition struct {
	ID          ToolID
	Description string
	Parameters  Parameters
	Run         Func
}

// =============================================================================
// REGISTRY
// =============================================================================

// Registry holds the tools available to the orchestrator, keyed by their
// qualified name. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Definition)}
}

// Register adds a tool. Client and tool names must be non-empty and must not
// contain the delimiter.
func (r *Registry) Register(def Definition) error {
	if def.ID.Client == "" || def.ID.Name == "" {
		return fmt.Errorf("tool registration requires client and name, got %q", def.ID.Qualified())
	}
	if strings.Contains(def.ID.Client, Delimiter) || strings.Contains(def.ID.Name, Delimiter) {
		return fmt.Errorf("tool identifier %q must not contain %q", def.ID.Qualified(), Delimiter)
	}
	if def.Run == nil {
		return fmt.Errorf("tool %q has no executor", def.ID.Qualified())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := def.ID.Qualified()
	if _, exists := r.tools[key]; exists {
		return fmt.Errorf("tool %q already registered", key)
	}
	d := def
	r.tools[key] = &d
	return nil
}

// Get returns the tool for the given id, or nil if unknown.
func (r *Registry) Get(id ToolID) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[id.Qualified()]
}

// Definitions returns all registered tools in no particular order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, *d)
	}
	return out
}
