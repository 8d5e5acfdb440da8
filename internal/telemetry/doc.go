// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry tracks cumulative token usage per session. The chat
// orchestrator records one CallUsage entry per completed top-level call.
package telemetry
