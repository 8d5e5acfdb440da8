// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store persists conversations to SQLite: chats, their ordered
// message history, and the tool calls resolved along the way. The schema
// uses cascading deletes so removing a chat removes everything it owns.
package store
