// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/model"
)

// =============================================================================
// PER-CALL STATE
// =============================================================================

// turnState is the accumulator for one top-level call, threaded explicitly
// through the recursive chain instead of living on the orchestrator. Token
// counters and the tool-call list therefore start from zero on every
// top-level call by construction.
type turnState struct {
	reply      strings.Builder
	replyRunes int

	calls []model.ToolCall

	inTokens  int
	outTokens int
	rounds    int

	aborted atomic.Bool
	start   time.Time
}

func newTurnState() *turnState {
	return &turnState{start: time.Now()}
}

// appendCalls merges calls into the accumulator. The list is append-only;
// duplicates (matched by id, or by position and name) are dropped, and a
// position regression is logged as a recoverable warning, never a failure.
func (st *turnState) appendCalls(log zerolog.Logger, calls ...model.ToolCall) {
next:
	for _, call := range calls {
		for i := range st.calls {
			if st.calls[i].SameIdentity(call) {
				log.Warn().
					Str("tool", call.Name).
					Int("position", call.Position).
					Msg("duplicate tool call dropped")
				continue next
			}
		}
		if n := len(st.calls); n > 0 && call.Position < st.calls[n-1].Position {
			log.Warn().
				Str("tool", call.Name).
				Int("position", call.Position).
				Int("previous", st.calls[n-1].Position).
				Msg("tool call position out of order")
		}
		st.calls = append(st.calls, call)
	}
}

// absorb folds one round's content and token counters into the accumulator,
// rebasing per-round tool-call positions onto the full reply.
func (st *turnState) absorb(content string, inTokens, outTokens int, calls ...*model.ToolCall) {
	base := st.replyRunes
	for _, call := range calls {
		if call != nil {
			call.Position += base
		}
	}
	st.reply.WriteString(content)
	st.replyRunes += utf8.RuneCountInString(content)
	st.inTokens += inTokens
	st.outTokens += outTokens
}

// outcome builds the terminal Outcome from accumulated state.
func (st *turnState) outcome(desc *ErrorDescriptor, aborted bool) Outcome {
	calls := make([]model.ToolCall, len(st.calls))
	copy(calls, st.calls)
	return Outcome{
		Content:      st.reply.String(),
		ToolCalls:    calls,
		InputTokens:  st.inTokens,
		OutputTokens: st.outTokens,
		Err:          desc,
		Aborted:      aborted,
	}
}
