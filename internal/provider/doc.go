// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the provider request strategy: a Provider
// value bundles the payload builder, the HTTP call shape, and the stream
// parser variant for one backend, behind a declarative readiness schema.
// The orchestrator's algorithm never changes when providers are swapped;
// only these three seams do.
package provider
