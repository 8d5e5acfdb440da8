// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry provides token-usage accounting for chatflow.
package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxCallRecords bounds per-session call history.
const maxCallRecords = 500

// =============================================================================
// USAGE TRACKER
// =============================================================================

// TokenCount tracks input/output tokens.
type TokenCount struct {
	Input  int `json:"input"`
	Output int `json:"output"`
}

// CallUsage records token usage of a single top-level chat call.
type CallUsage struct {
	Timestamp    time.Time     `json:"timestamp"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	InputTokens  int           `json:"input_tokens"`
	OutputTokens int           `json:"output_tokens"`
	RoundTrips   int           `json:"round_trips"`
	ToolCalls    int           `json:"tool_calls"`
	Duration     time.Duration `json:"duration"`
}

// SessionUsage aggregates usage for one tracker session.
type SessionUsage struct {
	ID        string      `json:"id"`
	StartTime time.Time   `json:"start_time"`
	Tokens    TokenCount  `json:"tokens"`
	Calls     []CallUsage `json:"calls"`
}

// UsageTracker accumulates token usage across top-level chat calls.
// It is safe for concurrent use.
type UsageTracker struct {
	mu      sync.RWMutex
	session SessionUsage
}

// NewUsageTracker creates a tracker with a fresh session.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{
		session: SessionUsage{
			ID:        uuid.NewString(),
			StartTime: time.Now(),
			Calls:     make([]CallUsage, 0),
		},
	}
}

// Record adds one completed top-level call to the session.
func (t *UsageTracker) Record(call CallUsage) {
	if call.Timestamp.IsZero() {
		call.Timestamp = time.Now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.session.Tokens.Input += call.InputTokens
	t.session.Tokens.Output += call.OutputTokens
	if len(t.session.Calls) >= maxCallRecords {
		t.session.Calls = t.session.Calls[len(t.session.Calls)-maxCallRecords+1:]
	}
	t.session.Calls = append(t.session.Calls, call)
}

// Session returns a snapshot of the current session.
func (t *UsageTracker) Session() SessionUsage {
	t.mu.RLock()
	defer t.mu.RUnlock()
	snap := t.session
	snap.Calls = make([]CallUsage, len(t.session.Calls))
	copy(snap.Calls, t.session.Calls)
	return snap
}

// Reset starts a new session and returns the finished one.
func (t *UsageTracker) Reset() SessionUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	old := t.session
	t.session = SessionUsage{
		ID:        uuid.NewString(),
		StartTime: time.Now(),
		Calls:     make([]CallUsage, 0),
	}
	return old
}
