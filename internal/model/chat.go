// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/chatflow/internal/util"
)

// MaxMessages is the maximum number of messages kept in chat history.
// When exceeded, the oldest non-system messages are pruned to prevent
// unbounded memory growth.
const MaxMessages = 1000

// =============================================================================
// CHAT TYPE
// =============================================================================

// Chat holds one conversation: its messages, model selection, and metadata.
// It is a passive data holder; the orchestrator never mutates it directly.
type Chat struct {
	// Identity
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Model is the provider model identifier used for this chat.
	Model string `json:"model"`

	// Messages is the ordered conversation history.
	Messages []Message `json:"messages"`

	// TokensUsed is a running estimate of context consumption.
	TokensUsed int `json:"tokens_used"`
}

// NewChat creates a new chat with a generated ID.
func NewChat(modelName string) *Chat {
	now := time.Now()
	return &Chat{
		ID:        uuid.NewString(),
		Model:     modelName,
		CreatedAt: now,
		UpdatedAt: now,
		Messages:  make([]Message, 0),
	}
}

// Append adds a message to the chat and updates metadata.
func (c *Chat) Append(msg Message) {
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = time.Now()
	c.updateTitle()
	c.prune()
}

// AppendUser creates, appends, and returns a user message.
func (c *Chat) AppendUser(content string) Message {
	msg := NewUserMessage(content)
	c.Append(msg)
	return msg
}

// AppendAssistant creates, appends, and returns an assistant message.
func (c *Chat) AppendAssistant(content string) Message {
	msg := NewAssistantMessage(content)
	c.Append(msg)
	return msg
}

// Last returns the most recent message, or nil if the chat is empty.
func (c *Chat) Last() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// updateTitle derives the chat title from the first user message.
func (c *Chat) updateTitle() {
	if c.Title != "" {
		return
	}
	for i := range c.Messages {
		if c.Messages[i].Role == RoleUser {
			c.Title = util.TruncateRunes(util.FirstLine(c.Messages[i].Content), 60)
			return
		}
	}
}

// prune drops the oldest non-system messages once MaxMessages is exceeded.
func (c *Chat) prune() {
	if len(c.Messages) <= MaxMessages {
		return
	}
	kept := make([]Message, 0, MaxMessages)
	excess := len(c.Messages) - MaxMessages
	for _, msg := range c.Messages {
		if excess > 0 && msg.Role != RoleSystem {
			excess--
			continue
		}
		kept = append(kept, msg)
	}
	c.Messages = kept
}
