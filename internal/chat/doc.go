// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat is the streaming chat orchestration engine. The Orchestrator
// sends a conversation to a provider, drives the stream parser over the
// response, dispatches tool calls through the tool host, folds results back
// into the conversation, and recurses until a terminal answer, the depth
// ceiling, cancellation, or an unrecoverable error. Exactly one Outcome is
// emitted per top-level call, always carrying partial output.
package chat
