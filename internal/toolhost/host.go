// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package toolhost

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/util"
)

// DefaultTimeout is applied to a dispatch when the caller's context carries
// no deadline.
const DefaultTimeout = 30 * time.Second

// DefaultMaxOutput clamps tool output fed back into the conversation.
const DefaultMaxOutput = 30000

// maxHistory bounds the in-memory dispatch history.
const maxHistory = 1000

// =============================================================================
// RESULT
// =============================================================================

// Result is the outcome of one tool dispatch. Failures travel on the same
// channel as successes: Content carries the failure text and Failed is set,
// so the model can be informed and decide how to proceed.
type Result struct {
	Content   string
	Failed    bool
	Truncated bool
	Duration  time.Duration
}

// Record is one entry of the dispatch history, kept for diagnostics.
type Record struct {
	ID        ToolID
	Args      map[string]any
	Result    Result
	Timestamp time.Time
}

// =============================================================================
// HOST
// =============================================================================

// Host dispatches tool calls against a registry with per-call timeouts and
// bounded output. It is safe for concurrent use.
type Host struct {
	registry  *Registry
	timeout   time.Duration
	maxOutput int
	log       zerolog.Logger

	mu      sync.Mutex
	history []Record
}

// NewHost creates a tool host over the given registry.
func NewHost(registry *Registry, log zerolog.Logger) *Host {
	return &Host{
		registry:  registry,
		timeout:   DefaultTimeout,
		maxOutput: DefaultMaxOutput,
		log:       log,
	}
}

// SetTimeout overrides the per-call default timeout.
func (h *Host) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

// Registry returns the underlying registry.
func (h *Host) Registry() *Registry { return h.registry }

// Definitions returns the registered tools, as advertised to providers.
func (h *Host) Definitions() []Definition { return h.registry.Definitions() }

// Dispatch executes one tool call and returns its result. An unknown tool,
// a tool error, a panic-free failure, or a timeout all produce a failed
// Result rather than an error; the orchestrator folds the text into the
// conversation either way.
func (h *Host) Dispatch(ctx context.Context, id ToolID, args map[string]any) Result {
	start := time.Now()

	def := h.registry.Get(id)
	if def == nil {
		res := Result{Content: "unknown tool: " + id.Qualified(), Failed: true, Duration: time.Since(start)}
		h.record(id, args, res)
		return res
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	type outcome struct {
		content string
		err     error
	}
	ch := make(chan outcome, 1)
	go func() {
		content, err := def.Run(ctx, args)
		ch <- outcome{content: content, err: err}
	}()

	var res Result
	select {
	case out := <-ch:
		if out.err != nil {
			res = Result{Content: out.err.Error(), Failed: true}
		} else {
			res = Result{Content: out.content}
		}
	case <-ctx.Done():
		res = Result{Content: "tool execution cancelled: " + ctx.Err().Error(), Failed: true}
	}
	res.Duration = time.Since(start)

	if len(res.Content) > h.maxOutput {
		res.Content = util.TruncateRunesNoEllipsis(res.Content, h.maxOutput)
		res.Truncated = true
	}

	h.log.Debug().
		Stringer("tool", id).
		Bool("failed", res.Failed).
		Dur("duration", res.Duration).
		Msg("tool dispatched")

	h.record(id, args, res)
	return res
}

// History returns a copy of the dispatch history.
func (h *Host) History() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.history))
	copy(out, h.history)
	return out
}

func (h *Host) record(id ToolID, args map[string]any, res Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.history) >= maxHistory {
		h.history = h.history[len(h.history)-maxHistory+1:]
	}
	h.history = append(h.history, Record{ID: id, Args: args, Result: res, Timestamp: time.Now()})
}
