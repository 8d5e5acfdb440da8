// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider isolates everything provider-specific behind three seams:
// payload construction, HTTP addressing/authentication, and stream-parser
// selection.
package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of an error response body is read.
const maxErrorBody = 1 * 1024 * 1024

// ErrNotReady indicates a provider failed its readiness check.
var ErrNotReady = errors.New("provider not configured")

// =============================================================================
// CONFIG ERROR
// =============================================================================

// ConfigError reports a provider whose schema-required fields are missing.
// It is surfaced before any network call is made.
type ConfigError struct {
	Provider string
	Missing  []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q missing required configuration: %s",
		e.Provider, strings.Join(e.Missing, ", "))
}

func (e *ConfigError) Unwrap() error { return ErrNotReady }

// =============================================================================
// STATUS ERROR
// =============================================================================

// StatusError wraps a non-2xx provider response into a uniform shape with an
// HTTP-derived code.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider error (HTTP %d): %s", e.Code, e.Message)
}

// apiErrorBody is the structured error envelope used by OpenAI-shaped APIs.
type apiErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	// Ollama-shaped APIs put the message at the top level.
	Message string `json:"message"`
	Plain   string `json:"error_text"`
}

// decodeStatusError reads a non-success response body as structured JSON
// when the content type says so, otherwise as plain text.
func decodeStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	serr := &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(body))}

	mt, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.Contains(mt, "json") {
		if serr.Message == "" {
			serr.Message = resp.Status
		}
		return serr
	}

	var apiErr apiErrorBody
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Error.Message != "":
			serr.Message = apiErr.Error.Message
		case apiErr.Message != "":
			serr.Message = apiErr.Message
		}
	}
	if serr.Message == "" {
		serr.Message = resp.Status
	}
	return serr
}

// IsNotReady reports whether err is a provider readiness failure.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}
