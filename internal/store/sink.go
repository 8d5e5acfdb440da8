// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/chat"
	"github.com/jeranaias/chatflow/internal/model"
)

// =============================================================================
// SINK
// =============================================================================

// Sink folds orchestrator outcomes back into a chat session and persists it.
// A nil store is allowed; the session is still updated in memory.
type Sink struct {
	store *Store
	chat  *model.Chat
	log   zerolog.Logger
}

// NewSink creates a sink for one chat session.
func NewSink(s *Store, c *model.Chat, log zerolog.Logger) *Sink {
	return &Sink{store: s, chat: c, log: log}
}

// Handlers wraps next so that each terminal outcome is appended to the chat
// as an assistant message and the chat is saved. Progress and error
// callbacks pass through untouched. Persistence failures are logged, not
// surfaced; the in-memory session stays authoritative.
func (s *Sink) Handlers(ctx context.Context, next chat.Handlers) chat.Handlers {
	wrapped := next
	wrapped.OnComplete = func(out chat.Outcome) {
		if out.Content != "" || len(out.ToolCalls) > 0 {
			msg := model.NewAssistantMessage(out.Content)
			msg.ToolCalls = out.ToolCalls
			s.chat.Append(msg)
			s.chat.TokensUsed += out.InputTokens + out.OutputTokens
		}

		if s.store != nil {
			if err := s.store.SaveChat(ctx, s.chat); err != nil {
				s.log.Error().Err(err).Str("chat", s.chat.ID).Msg("failed to persist chat")
			}
		}

		if next.OnComplete != nil {
			next.OnComplete(out)
		}
	}
	return wrapped
}
