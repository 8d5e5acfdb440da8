// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/provider"
	"github.com/jeranaias/chatflow/internal/stream"
	"github.com/jeranaias/chatflow/internal/telemetry"
	"github.com/jeranaias/chatflow/internal/toolhost"
)

// DefaultMaxDepth is the default recursion ceiling: the maximum number of
// chained round-trips for one top-level call. Runaway tool-call loops fail
// closed with an error outcome rather than reporting success.
const DefaultMaxDepth = 10

// ToolHost executes tool calls on behalf of the orchestrator. Failures
// travel inside the Result so the model can be informed and decide how to
// proceed; a failed dispatch never aborts the chain.
type ToolHost interface {
	Dispatch(ctx context.Context, id toolhost.ToolID, args map[string]any) toolhost.Result
	Definitions() []toolhost.Definition
}

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives one conversation turn to completion, transparently
// performing zero or more tool-call round-trips. Provider-specific behavior
// is injected through the provider strategy; tool execution through the
// ToolHost. All per-call state is threaded through the recursive chain, so
// a single Orchestrator can serve overlapping top-level calls.
type Orchestrator struct {
	prov     *provider.Provider
	host     ToolHost
	usage    *telemetry.UsageTracker
	maxDepth int
	log      zerolog.Logger

	mu  sync.Mutex
	cur *inflight
}

// inflight tracks the cancellation handle of the currently in-flight
// round-trip so Abort can reach it.
type inflight struct {
	cancel context.CancelFunc
	st     *turnState
}

// NewOrchestrator creates an orchestrator for the given provider and tool
// host.
func NewOrchestrator(prov *provider.Provider, host ToolHost, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		prov:     prov,
		host:     host,
		maxDepth: DefaultMaxDepth,
		log:      log,
	}
}

// WithMaxDepth overrides the recursion ceiling.
func (o *Orchestrator) WithMaxDepth(depth int) *Orchestrator {
	if depth > 0 {
		o.maxDepth = depth
	}
	return o
}

// WithUsageTracker records completed calls into the given tracker.
func (o *Orchestrator) WithUsageTracker(t *telemetry.UsageTracker) *Orchestrator {
	o.usage = t
	return o
}

// =============================================================================
// PUBLIC CONTRACT
// =============================================================================

// Chat drives one top-level conversation turn. The terminal result is
// delivered through h.OnComplete exactly once, even on error or abort, and
// is also returned. Progress callbacks fire in stream order, strictly
// before completion.
func (o *Orchestrator) Chat(ctx context.Context, messages []model.Message, h Handlers) Outcome {
	h = h.withDefaults(o.log)
	st := newTurnState()

	out := o.run(ctx, messages, 0, st, h)
	h.OnComplete(out)

	if o.usage != nil {
		o.usage.Record(telemetry.CallUsage{
			Provider:     o.prov.Name,
			Model:        o.prov.Model,
			InputTokens:  out.InputTokens,
			OutputTokens: out.OutputTokens,
			RoundTrips:   st.rounds,
			ToolCalls:    len(out.ToolCalls),
			Duration:     time.Since(st.start),
		})
	}
	return out
}

// Abort requests cancellation of the currently in-flight round-trip. The
// completion callback still fires, carrying whatever was accumulated and an
// error descriptor flagged as aborted.
func (o *Orchestrator) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.cur != nil {
		o.cur.st.aborted.Store(true)
		o.cur.cancel()
	}
}

// =============================================================================
// RECURSIVE CHAIN
// =============================================================================

// run performs one round-trip and recurses while the model keeps requesting
// tools. Depth counts chained round-trips; state is the per-call
// accumulator shared down the chain.
func (o *Orchestrator) run(ctx context.Context, msgs []model.Message, depth int, st *turnState, h Handlers) Outcome {
	if depth >= o.maxDepth {
		o.log.Error().Int("depth", depth).Str("provider", o.prov.Name).Msg("recursion ceiling reached")
		return st.outcome(&ErrorDescriptor{Code: CodeInternal, Message: "maximum recursion depth reached"}, st.aborted.Load())
	}

	// Readiness is checked before every network call so configuration
	// failures surface as configuration errors, not network errors.
	if err := o.prov.Ready(); err != nil {
		h.OnError(err, false)
		return st.outcome(&ErrorDescriptor{Code: CodeConfig, Message: err.Error()}, false)
	}

	rtCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	inf := o.arm(cancel, st)
	defer o.disarm(inf)

	body, err := o.prov.Build(provider.Request{
		Model:    o.prov.Model,
		Messages: msgs,
		Tools:    o.host.Definitions(),
	})
	if err != nil {
		h.OnError(err, false)
		return st.outcome(&ErrorDescriptor{Code: CodeInternal, Message: err.Error()}, false)
	}

	st.rounds++
	resp, err := o.prov.Do(rtCtx, body)
	if err != nil {
		return o.failure(err, st, h)
	}
	defer resp.Body.Close()

	res, readErr := o.prov.NewParser().Read(rtCtx, resp.Body, stream.Events{
		OnText: h.OnProgress,
		OnError: func(e error) {
			o.log.Warn().Err(e).Str("provider", o.prov.Name).Msg("stream parse error")
		},
	})

	ptrs := make([]*model.ToolCall, 0, 1+len(res.ToolCalls))
	if res.PendingCall != nil {
		ptrs = append(ptrs, res.PendingCall)
	}
	for i := range res.ToolCalls {
		ptrs = append(ptrs, &res.ToolCalls[i])
	}
	st.absorb(res.Content, res.InputTokens, res.OutputTokens, ptrs...)

	if readErr != nil {
		return o.failure(readErr, st, h)
	}

	if res.PendingCall != nil {
		return o.dispatchAndRecurse(ctx, rtCtx, msgs, depth, st, h, res)
	}

	// Terminal round-trip: no pending tool call.
	st.appendCalls(o.log, res.ToolCalls...)
	var desc *ErrorDescriptor
	if res.Err != nil {
		desc = &ErrorDescriptor{Code: CodeInternal, Message: res.Err.Error()}
	}
	return st.outcome(desc, false)
}

// dispatchAndRecurse resolves the pending tool call, folds its result into
// the conversation, and re-opens the conversation one level deeper.
func (o *Orchestrator) dispatchAndRecurse(ctx, rtCtx context.Context, msgs []model.Message, depth int, st *turnState, h Handlers, res *stream.ReadResult) Outcome {
	call := *res.PendingCall
	h.OnToolCallStarted(call.Name)

	// Tool failure is captured as the call's response, not as an
	// orchestrator error: the model is informed and decides how to
	// proceed.
	id := toolhost.ParseID(call.Name)
	tres := o.host.Dispatch(rtCtx, id, call.Arguments)
	call.Response = tres.Content

	st.appendCalls(o.log, call)
	st.appendCalls(o.log, res.ToolCalls...)

	if st.aborted.Load() {
		h.OnError(context.Canceled, true)
		return st.outcome(&ErrorDescriptor{Code: CodeAborted, Message: "aborted"}, true)
	}

	next := make([]model.Message, len(msgs), len(msgs)+2)
	copy(next, msgs)
	next = append(next, model.NewAssistantMessageWithToolCall(res.Content, call))
	next = append(next, model.NewToolResultMessage(call.ID, call.Response))

	return o.run(ctx, next, depth+1, st, h)
}

// failure converts a round-trip error into a terminal outcome, preserving
// partial output. The aborted flag is derived from the cancellation state.
func (o *Orchestrator) failure(err error, st *turnState, h Handlers) Outcome {
	aborted := st.aborted.Load() || errors.Is(err, context.Canceled)
	h.OnError(err, aborted)
	return st.outcome(o.classify(err, aborted), aborted)
}

// classify maps an error to the uniform descriptor shape.
func (o *Orchestrator) classify(err error, aborted bool) *ErrorDescriptor {
	if aborted {
		return &ErrorDescriptor{Code: CodeAborted, Message: "aborted"}
	}
	var serr *provider.StatusError
	if errors.As(err, &serr) {
		return &ErrorDescriptor{Code: serr.Code, Message: serr.Message}
	}
	var cerr *provider.ConfigError
	if errors.As(err, &cerr) {
		return &ErrorDescriptor{Code: CodeConfig, Message: cerr.Error()}
	}
	return &ErrorDescriptor{Code: CodeInternal, Message: err.Error()}
}

// arm publishes the current round-trip's cancellation handle.
func (o *Orchestrator) arm(cancel context.CancelFunc, st *turnState) *inflight {
	inf := &inflight{cancel: cancel, st: st}
	o.mu.Lock()
	o.cur = inf
	o.mu.Unlock()
	return inf
}

// disarm clears the handle unless a deeper round-trip replaced it.
func (o *Orchestrator) disarm(inf *inflight) {
	o.mu.Lock()
	if o.cur == inf {
		o.cur = nil
	}
	o.mu.Unlock()
}
