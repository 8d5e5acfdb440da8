// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/model"
)

// Error codes used in outcome descriptors.
const (
	// CodeConfig marks a provider readiness failure.
	CodeConfig = 400

	// CodeAborted marks a user-initiated cancellation.
	CodeAborted = 499

	// CodeInternal marks unclassified failures and the depth ceiling.
	CodeInternal = 500
)

// =============================================================================
// OUTCOME
// =============================================================================

// ErrorDescriptor is the uniform error shape carried in an Outcome.
type ErrorDescriptor struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Outcome is the terminal result of one top-level Chat call. Exactly one
// Outcome is emitted per top-level call, even on error or cancellation, and
// partial output is always preserved.
type Outcome struct {
	// Content is the full reply text accumulated across all round-trips.
	Content string `json:"content"`

	// ToolCalls is the ordered list of tool calls resolved during the
	// chain, each with its response attached.
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`

	// Cumulative token usage across all round-trips of this call.
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`

	// Err is set when the chain did not terminate cleanly.
	Err *ErrorDescriptor `json:"error,omitempty"`

	// Aborted distinguishes user-initiated cancellation from hard failure.
	Aborted bool `json:"aborted,omitempty"`
}

// Failed reports whether the outcome carries an error descriptor.
func (o Outcome) Failed() bool { return o.Err != nil }

// =============================================================================
// HANDLERS
// =============================================================================

// Handlers are the per-call observer callbacks. Any field may be nil; nil
// handlers default to diagnostic logging. Handlers are passed explicitly to
// each Chat call rather than registered on the orchestrator, so concurrent
// use of one orchestrator is safe by construction.
type Handlers struct {
	// OnProgress receives each text fragment in stream order, strictly
	// before OnComplete.
	OnProgress func(chunk string)

	// OnToolCallStarted fires when a tool call is about to be dispatched,
	// with the qualified tool name.
	OnToolCallStarted func(name string)

	// OnError fires for terminal errors, with the aborted flag derived
	// from the cancellation state.
	OnError func(err error, aborted bool)

	// OnComplete receives the single terminal outcome.
	OnComplete func(out Outcome)
}

// withDefaults fills nil handlers with logging no-ops.
func (h Handlers) withDefaults(log zerolog.Logger) Handlers {
	if h.OnProgress == nil {
		h.OnProgress = func(chunk string) {
			log.Debug().Int("len", len(chunk)).Msg("progress")
		}
	}
	if h.OnToolCallStarted == nil {
		h.OnToolCallStarted = func(name string) {
			log.Debug().Str("tool", name).Msg("tool call started")
		}
	}
	if h.OnError == nil {
		h.OnError = func(err error, aborted bool) {
			log.Debug().Err(err).Bool("aborted", aborted).Msg("chat error")
		}
	}
	if h.OnComplete == nil {
		h.OnComplete = func(out Outcome) {
			log.Debug().Bool("failed", out.Failed()).Msg("chat complete")
		}
	}
	return h
}
