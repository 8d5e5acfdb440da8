// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures for chats, messages, and tool calls.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents one turn in the conversation sent to a provider.
// A message is immutable once it has been sent.
type Message struct {
	// ID is a unique message identifier, allocated by the owning Chat.
	ID string `json:"id,omitempty"`

	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the plain-text content of the message.
	Content string `json:"content"`

	// Parts holds structured multimodal content. When non-empty it takes
	// precedence over Content for providers that support it.
	Parts []Part `json:"parts,omitempty"`

	// ToolCalls contains tool calls requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool result back to its call (role "tool" only).
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Timestamp is when the message was created locally.
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Part is a single structured content part of a multimodal message.
type Part struct {
	// Type is "text" or "image_url".
	Type string `json:"type"`

	// Text is set when Type is "text".
	Text string `json:"text,omitempty"`

	// ImageURL is set when Type is "image_url".
	ImageURL string `json:"image_url,omitempty"`
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleUser, Content: content, Timestamp: time.Now()}
}

// NewSystemMessage creates a new system message.
func NewSystemMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleSystem, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(content string) Message {
	return Message{ID: uuid.NewString(), Role: RoleAssistant, Content: content, Timestamp: time.Now()}
}

// NewAssistantMessageWithToolCall creates an assistant message carrying a
// tool call, as replayed to the provider on the next round-trip.
func NewAssistantMessageWithToolCall(content string, call ToolCall) Message {
	msg := NewAssistantMessage(content)
	msg.ToolCalls = []ToolCall{call}
	return msg
}

// NewToolResultMessage creates a tool result message linked to its call.
func NewToolResultMessage(callID, content string) Message {
	return Message{
		ID:         uuid.NewString(),
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
		Timestamp:  time.Now(),
	}
}

// HasToolCalls returns true if the message contains tool calls.
func (m *Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// Text returns the textual content of the message, flattening text parts
// when structured parts are present.
func (m *Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}
