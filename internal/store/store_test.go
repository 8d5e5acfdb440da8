// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatflow/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chatflow.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSaveAndLoadChat(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chat := model.NewChat("test-model")
	chat.AppendUser("what time is it")
	chat.Append(model.NewAssistantMessageWithToolCall("Checking.", model.ToolCall{
		ID:        "call_1",
		Name:      "local--time",
		Arguments: map[string]any{"zone": "UTC"},
		Response:  "12:00",
		Position:  9,
	}))
	chat.Append(model.NewToolResultMessage("call_1", "12:00"))
	chat.AppendAssistant("It is noon.")
	chat.TokensUsed = 42

	require.NoError(t, s.SaveChat(ctx, chat))

	loaded, err := s.LoadChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, chat.Title, loaded.Title)
	assert.Equal(t, "test-model", loaded.Model)
	assert.Equal(t, 42, loaded.TokensUsed)
	require.Len(t, loaded.Messages, 4)

	assert.Equal(t, model.RoleUser, loaded.Messages[0].Role)
	assert.Equal(t, "what time is it", loaded.Messages[0].Content)

	require.Len(t, loaded.Messages[1].ToolCalls, 1)
	call := loaded.Messages[1].ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "local--time", call.Name)
	assert.Equal(t, map[string]any{"zone": "UTC"}, call.Arguments)
	assert.Equal(t, "12:00", call.Response)
	assert.Equal(t, 9, call.Position)

	assert.Equal(t, "call_1", loaded.Messages[2].ToolCallID)
}

func TestSaveChatReplacesHistory(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chat := model.NewChat("m")
	chat.AppendUser("one")
	require.NoError(t, s.SaveChat(ctx, chat))

	chat.AppendAssistant("two")
	require.NoError(t, s.SaveChat(ctx, chat))

	loaded, err := s.LoadChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 2, "saving twice must not duplicate rows")
}

func TestLoadChatNotFound(t *testing.T) {
	s := openStore(t)
	_, err := s.LoadChat(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListChats(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first := model.NewChat("m")
	first.AppendUser("older chat")
	require.NoError(t, s.SaveChat(ctx, first))

	second := model.NewChat("m")
	second.AppendUser("newer chat")
	second.AppendAssistant("reply")
	require.NoError(t, s.SaveChat(ctx, second))

	metas, err := s.ListChats(ctx)
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, second.ID, metas[0].ID, "most recently updated first")
	assert.Equal(t, 2, metas[0].MessageCount)
	assert.Equal(t, 1, metas[1].MessageCount)
}

func TestDeleteChatCascades(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chat := model.NewChat("m")
	chat.AppendUser("hello")
	require.NoError(t, s.SaveChat(ctx, chat))

	require.NoError(t, s.DeleteChat(ctx, chat.ID))
	_, err := s.LoadChat(ctx, chat.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, s.DeleteChat(ctx, chat.ID), ErrNotFound)
}

func TestPartsRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	chat := model.NewChat("m")
	msg := model.NewUserMessage("see attached")
	msg.Parts = []model.Part{
		{Type: "text", Text: "see attached"},
		{Type: "image_url", ImageURL: "https://example.com/cat.png"},
	}
	chat.Append(msg)
	require.NoError(t, s.SaveChat(ctx, chat))

	loaded, err := s.LoadChat(ctx, chat.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Messages, 1)
	require.Len(t, loaded.Messages[0].Parts, 2)
	assert.Equal(t, "https://example.com/cat.png", loaded.Messages[0].Parts[1].ImageURL)
}
