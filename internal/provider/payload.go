// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"encoding/json"

	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/toolhost"
)

// =============================================================================
// REQUEST / BUILDER
// =============================================================================

// Request carries everything a payload builder needs for one round-trip.
type Request struct {
	Model    string
	Messages []model.Message
	Tools    []toolhost.Definition
}

// Builder constructs the provider-specific JSON body for one round-trip.
type Builder func(req Request) ([]byte, error)

// =============================================================================
// OPENAI-SHAPED PAYLOAD
// =============================================================================

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    any              `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL *struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

type openAITool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string              `json:"name"`
		Description string              `json:"description"`
		Parameters  toolhost.Parameters `json:"parameters"`
	} `json:"function"`
}

type openAIRequest struct {
	Model         string          `json:"model"`
	Messages      []openAIMessage `json:"messages"`
	Stream        bool            `json:"stream"`
	StreamOptions *struct {
		IncludeUsage bool `json:"include_usage"`
	} `json:"stream_options,omitempty"`
	Tools []openAITool `json:"tools,omitempty"`
}

// BuildOpenAI constructs an OpenAI-shaped streaming chat-completions body.
func BuildOpenAI(req Request) ([]byte, error) {
	out := openAIRequest{
		Model:  req.Model,
		Stream: true,
		StreamOptions: &struct {
			IncludeUsage bool `json:"include_usage"`
		}{IncludeUsage: true},
	}

	for _, msg := range req.Messages {
		om := openAIMessage{Role: msg.Role, ToolCallID: msg.ToolCallID}

		if len(msg.Parts) > 0 {
			parts := make([]openAIContentPart, 0, len(msg.Parts))
			for _, p := range msg.Parts {
				part := openAIContentPart{Type: p.Type, Text: p.Text}
				if p.Type == "image_url" {
					part.ImageURL = &struct {
						URL string `json:"url"`
					}{URL: p.ImageURL}
				}
				parts = append(parts, part)
			}
			om.Content = parts
		} else {
			om.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				return nil, err
			}
			otc := openAIToolCall{ID: tc.ID, Type: "function"}
			otc.Function.Name = tc.Name
			otc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, otc)
		}

		out.Messages = append(out.Messages, om)
	}

	for _, def := range req.Tools {
		tool := openAITool{Type: "function"}
		tool.Function.Name = def.ID.Qualified()
		tool.Function.Description = def.Description
		tool.Function.Parameters = normalizeParameters(def.Parameters)
		out.Tools = append(out.Tools, tool)
	}

	return json.Marshal(out)
}

// =============================================================================
// OLLAMA-SHAPED PAYLOAD
// =============================================================================

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
}

type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string              `json:"name"`
		Description string              `json:"description"`
		Parameters  toolhost.Parameters `json:"parameters"`
	} `json:"function"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

// BuildOllama constructs an Ollama-shaped streaming /api/chat body.
func BuildOllama(req Request) ([]byte, error) {
	out := ollamaRequest{Model: req.Model, Stream: true}

	for _, msg := range req.Messages {
		om := ollamaMessage{Role: msg.Role, Content: msg.Text()}
		for _, tc := range msg.ToolCalls {
			var otc ollamaToolCall
			otc.Function.Name = tc.Name
			otc.Function.Arguments = tc.Arguments
			om.ToolCalls = append(om.ToolCalls, otc)
		}
		out.Messages = append(out.Messages, om)
	}

	for _, def := range req.Tools {
		tool := ollamaTool{Type: "function"}
		tool.Function.Name = def.ID.Qualified()
		tool.Function.Description = def.Description
		tool.Function.Parameters = normalizeParameters(def.Parameters)
		out.Tools = append(out.Tools, tool)
	}

	return json.Marshal(out)
}

// normalizeParameters fills schema defaults so providers always receive a
// well-formed object schema.
func normalizeParameters(p toolhost.Parameters) toolhost.Parameters {
	if p.Type == "" {
		p.Type = "object"
	}
	if p.Properties == nil {
		p.Properties = map[string]toolhost.Property{}
	}
	return p
}
