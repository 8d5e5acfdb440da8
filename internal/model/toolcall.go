// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

// ToolCall represents a single tool invocation and its outcome.
//
// A ToolCall is created when the stream parser emits a tool-call event. The
// Response field is attached exactly once when the tool host finishes, after
// which the value is frozen in the per-call accumulator.
type ToolCall struct {
	// ID is the provider-assigned call id, or a generated one when the
	// provider does not assign ids.
	ID string `json:"id"`

	// Name is the qualified tool name in "client--toolname" form.
	Name string `json:"name"`

	// Arguments holds the decoded call arguments.
	Arguments map[string]any `json:"arguments,omitempty"`

	// Response is the tool's result, or its failure text. Empty until the
	// tool completes.
	Response string `json:"response,omitempty"`

	// Position is the rune offset in the accumulated reply at which the
	// call was requested. Used for ordering and duplicate detection.
	Position int `json:"position"`
}

// SameIdentity reports whether two calls refer to the same invocation.
// Calls match by id when both carry one, otherwise by (position, name).
func (c ToolCall) SameIdentity(o ToolCall) bool {
	if c.ID != "" && o.ID != "" {
		return c.ID == o.ID
	}
	return c.Position == o.Position && c.Name == o.Name
}
