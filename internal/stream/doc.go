// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream implements the stream-parser contract consumed by the chat
// orchestrator, with one parser variant per provider wire format: SSE for
// OpenAI-shaped chat-completions streams and NDJSON for Ollama-shaped chat
// streams. Parsers surface per-frame errors as recoverable events and always
// return whatever content and tool calls were accumulated before a failure.
package stream
