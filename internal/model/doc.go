// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model defines the conversation data model: chats, request
// messages, multimodal parts, and tool-call records. These types are shared
// by the orchestrator, the stream parsers, the provider payload builders,
// and the persistence layer.
package model
