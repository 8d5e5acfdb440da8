// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/jeranaias/chatflow/internal/stream"
)

// userAgent identifies chatflow to providers.
const userAgent = "chatflow/0.3.0"

// Schema field names a provider may declare as required.
const (
	FieldModel = "model"
	FieldBase  = "base"
	FieldKey   = "key"
)

// sharedStreamingClient serves streaming requests with connection pooling.
// No client timeout; lifetime is controlled by the round-trip context.
var sharedStreamingClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
	},
}

// =============================================================================
// SCHEMA
// =============================================================================

// Schema declares which provider fields are required for readiness.
type Schema struct {
	Required []string
}

// CloudSchema is the schema for authenticated cloud providers.
func CloudSchema() Schema {
	return Schema{Required: []string{FieldModel, FieldBase, FieldKey}}
}

// LocalSchema is the schema for unauthenticated local providers.
func LocalSchema() Schema {
	return Schema{Required: []string{FieldModel, FieldBase}}
}

// =============================================================================
// PROVIDER
// =============================================================================

// Provider bundles the three injectable seams that vary per provider:
// payload construction, HTTP addressing/authentication, and the stream
// parser variant. Swapping providers never touches the orchestrator.
type Provider struct {
	// Name identifies the provider in configuration and logs.
	Name string

	// Model is the model identifier sent in each request.
	Model string

	// BaseURL is the provider API base, without trailing slash.
	BaseURL string

	// Key is the authorization credential, empty for local providers.
	Key string

	// Path is the chat endpoint path appended to BaseURL.
	Path string

	// Schema declares which of the fields above are required.
	Schema Schema

	// Build constructs the request body for one round-trip.
	Build Builder

	// NewParser creates the stream parser for one response body.
	NewParser stream.Factory

	// Headers holds extra request headers, such as attribution headers.
	Headers map[string]string

	// Limiter throttles round-trips when non-nil.
	Limiter *rate.Limiter

	// client overrides the shared streaming client in tests.
	client *http.Client
}

// Ready validates every schema-required field and fails fast with a
// ConfigError rather than a network error.
func (p *Provider) Ready() error {
	var missing []string
	for _, field := range p.Schema.Required {
		switch field {
		case FieldModel:
			if p.Model == "" {
				missing = append(missing, FieldModel)
			}
		case FieldBase:
			if p.BaseURL == "" {
				missing = append(missing, FieldBase)
			}
		case FieldKey:
			if p.Key == "" {
				missing = append(missing, FieldKey)
			}
		}
	}
	if len(missing) > 0 {
		return &ConfigError{Provider: p.Name, Missing: missing}
	}
	if p.Build == nil || p.NewParser == nil {
		return &ConfigError{Provider: p.Name, Missing: []string{"strategy"}}
	}
	return nil
}

// Do issues one streaming round-trip and returns the open response body.
// A non-success status is decoded per content type and returned as a
// StatusError; no retry happens at this layer. The caller owns closing the
// body.
func (p *Provider) Do(ctx context.Context, body []byte) (*http.Response, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.BaseURL+p.Path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/event-stream, application/x-ndjson, application/json")
	if p.Key != "" {
		req.Header.Set("Authorization", "Bearer "+p.Key)
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	client := p.client
	if client == nil {
		client = sharedStreamingClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := decodeStatusError(resp)
		resp.Body.Close()
		return nil, serr
	}
	return resp, nil
}

// WithClient overrides the HTTP client, for tests against httptest servers.
func (p *Provider) WithClient(c *http.Client) *Provider {
	p.client = c
	return p
}
