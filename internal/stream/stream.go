// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns raw provider response bodies into semantic events:
// text fragments, tool-call requests, token-usage counters, and errors.
package stream

import (
	"context"
	"io"

	"github.com/jeranaias/chatflow/internal/model"
)

// =============================================================================
// PARSER CONTRACT
// =============================================================================

// ReadResult is the outcome of fully draining one streamed response.
type ReadResult struct {
	// Content is the accumulated reply text for this round-trip.
	Content string

	// PendingCall is the tool call the model is requesting, if any.
	// At most one pending call is produced per round-trip; it drives the
	// next recursion step in the orchestrator.
	PendingCall *model.ToolCall

	// ToolCalls holds calls that arrived already finalized in this round.
	// They are merged into the terminal outcome without driving recursion.
	ToolCalls []model.ToolCall

	// Token usage reported by the provider for this round-trip.
	InputTokens  int
	OutputTokens int

	// Err is a non-fatal error surfaced while parsing, carried into the
	// terminal outcome when the round is the last of its chain.
	Err error
}

// Events are the sub-callbacks invoked while a stream is parsed. Any field
// may be nil.
type Events struct {
	// OnText is called for each text fragment, in stream order.
	OnText func(text string)

	// OnToolCall is called when a tool call is first recognized.
	OnToolCall func(call model.ToolCall)

	// OnError is called for recoverable per-frame parse errors.
	OnError func(err error)
}

// Parser decodes one provider wire format. Read drains the body and returns
// the result; it always returns a non-nil result carrying whatever was
// accumulated, even when it returns an error.
//
// A Parser instance is used for a single response body and is not safe for
// concurrent use.
type Parser interface {
	Read(ctx context.Context, body io.Reader, ev Events) (*ReadResult, error)
}

// Factory creates a fresh Parser for one round-trip.
type Factory func() Parser

func emitText(ev Events, text string) {
	if ev.OnText != nil && text != "" {
		ev.OnText(text)
	}
}

func emitToolCall(ev Events, call model.ToolCall) {
	if ev.OnToolCall != nil {
		ev.OnToolCall(call)
	}
}

func emitError(ev Events, err error) {
	if ev.OnError != nil && err != nil {
		ev.OnError(err)
	}
}
