// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/chatflow/internal/stream"
)

// Default endpoints.
const (
	// DefaultOpenRouterURL is the OpenRouter API base.
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

	// DefaultOllamaURL is the local Ollama API base. Uses the explicit
	// IPv4 address instead of localhost to avoid IPv6 resolution issues
	// on Windows.
	DefaultOllamaURL = "http://127.0.0.1:11434"
)

// =============================================================================
// PRESETS
// =============================================================================

// OpenRouter returns a provider for OpenRouter's OpenAI-shaped streaming
// API. Model, base URL, and key are all schema-required.
func OpenRouter(modelName, baseURL, key string, log zerolog.Logger) *Provider {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	return &Provider{
		Name:      "openrouter",
		Model:     modelName,
		BaseURL:   baseURL,
		Key:       key,
		Path:      "/chat/completions",
		Schema:    CloudSchema(),
		Build:     BuildOpenAI,
		NewParser: stream.SSEFactory(log),
		Headers: map[string]string{
			"HTTP-Referer": "https://chatflow.local",
			"X-Title":      "chatflow",
		},
		Limiter: rate.NewLimiter(rate.Limit(2), 4),
	}
}

// Ollama returns a provider for a local Ollama server. No credential is
// required; readiness checks model and base URL only.
func Ollama(modelName, baseURL string, log zerolog.Logger) *Provider {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	return &Provider{
		Name:      "ollama",
		Model:     modelName,
		BaseURL:   baseURL,
		Path:      "/api/chat",
		Schema:    LocalSchema(),
		Build:     BuildOllama,
		NewParser: stream.NDJSONFactory(log),
	}
}
