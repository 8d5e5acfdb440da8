// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package toolhost implements the tool host consumed by the chat
// orchestrator: a registry of client-qualified tools and a dispatcher that
// executes them with per-call timeouts. Tool failures are returned on the
// same channel as results so the conversation can continue.
package toolhost
