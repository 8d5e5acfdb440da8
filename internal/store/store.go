// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package store provides SQLite-backed conversation persistence.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/chatflow/internal/model"
)

// ErrNotFound is returned when the requested chat does not exist.
var ErrNotFound = errors.New("chat not found")

// =============================================================================
// STORE
// =============================================================================

// Store persists chats, their messages, and resolved tool calls.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// ChatMeta is the listing row for a persisted chat.
type ChatMeta struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
	TokensUsed   int       `json:"tokens_used"`
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &Store{db: db, log: log}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS chats (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL DEFAULT '',
			model       TEXT NOT NULL DEFAULT '',
			created_at  TIMESTAMP NOT NULL,
			updated_at  TIMESTAMP NOT NULL,
			tokens_used INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id           TEXT PRIMARY KEY,
			chat_id      TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
			seq          INTEGER NOT NULL,
			role         TEXT NOT NULL,
			content      TEXT NOT NULL DEFAULT '',
			parts        TEXT,
			tool_call_id TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tool_calls (
			call_id    TEXT NOT NULL,
			message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			name       TEXT NOT NULL,
			arguments  TEXT NOT NULL DEFAULT '{}',
			response   TEXT NOT NULL DEFAULT '',
			position   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_calls_message ON tool_calls(message_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("%w: %v", errSchema, err)
		}
	}
	return nil
}

var errSchema = errors.New("schema migration failed")

// =============================================================================
// SAVE
// =============================================================================

// SaveChat upserts a chat and replaces its message history atomically.
func (s *Store) SaveChat(ctx context.Context, chat *model.Chat) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chats (id, title, model, created_at, updated_at, tokens_used)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			model = excluded.model,
			updated_at = excluded.updated_at,
			tokens_used = excluded.tokens_used`,
		chat.ID, chat.Title, chat.Model, chat.CreatedAt, chat.UpdatedAt, chat.TokensUsed)
	if err != nil {
		return fmt.Errorf("failed to save chat: %w", err)
	}

	// Replace-on-save keeps the stored history identical to memory,
	// including pruned messages dropping out.
	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE chat_id = ?`, chat.ID); err != nil {
		return fmt.Errorf("failed to clear messages: %w", err)
	}

	for seq, msg := range chat.Messages {
		var parts any
		if len(msg.Parts) > 0 {
			data, err := json.Marshal(msg.Parts)
			if err != nil {
				return fmt.Errorf("failed to encode message parts: %w", err)
			}
			parts = string(data)
		}

		_, err := tx.ExecContext(ctx, `
			INSERT INTO messages (id, chat_id, seq, role, content, parts, tool_call_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			msg.ID, chat.ID, seq, msg.Role, msg.Content, parts, msg.ToolCallID, msg.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to save message: %w", err)
		}

		for _, call := range msg.ToolCalls {
			args, err := json.Marshal(call.Arguments)
			if err != nil {
				return fmt.Errorf("failed to encode tool-call arguments: %w", err)
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO tool_calls (call_id, message_id, name, arguments, response, position)
				VALUES (?, ?, ?, ?, ?, ?)`,
				call.ID, msg.ID, call.Name, string(args), call.Response, call.Position)
			if err != nil {
				return fmt.Errorf("failed to save tool call: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.log.Debug().Str("chat", chat.ID).Int("messages", len(chat.Messages)).Msg("chat saved")
	return nil
}

// =============================================================================
// LOAD
// =============================================================================

// LoadChat loads a chat with its full message history.
func (s *Store) LoadChat(ctx context.Context, id string) (*model.Chat, error) {
	chat := &model.Chat{ID: id}
	err := s.db.QueryRowContext(ctx, `
		SELECT title, model, created_at, updated_at, tokens_used
		FROM chats WHERE id = ?`, id).
		Scan(&chat.Title, &chat.Model, &chat.CreatedAt, &chat.UpdatedAt, &chat.TokensUsed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, parts, tool_call_id, created_at
		FROM messages WHERE chat_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var msg model.Message
		var parts sql.NullString
		if err := rows.Scan(&msg.ID, &msg.Role, &msg.Content, &parts, &msg.ToolCallID, &msg.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if parts.Valid && parts.String != "" {
			if err := json.Unmarshal([]byte(parts.String), &msg.Parts); err != nil {
				s.log.Warn().Err(err).Str("message", msg.ID).Msg("dropping undecodable message parts")
			}
		}
		chat.Messages = append(chat.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.attachToolCalls(ctx, chat); err != nil {
		return nil, err
	}
	return chat, nil
}

// attachToolCalls loads tool calls for every message of the chat.
func (s *Store) attachToolCalls(ctx context.Context, chat *model.Chat) error {
	byMessage := make(map[string][]model.ToolCall)

	rows, err := s.db.QueryContext(ctx, `
		SELECT t.call_id, t.message_id, t.name, t.arguments, t.response, t.position
		FROM tool_calls t
		JOIN messages m ON m.id = t.message_id
		WHERE m.chat_id = ?
		ORDER BY t.position`, chat.ID)
	if err != nil {
		return fmt.Errorf("failed to load tool calls: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var call model.ToolCall
		var messageID, args string
		if err := rows.Scan(&call.ID, &messageID, &call.Name, &args, &call.Response, &call.Position); err != nil {
			return fmt.Errorf("failed to scan tool call: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &call.Arguments); err != nil {
			call.Arguments = map[string]any{}
		}
		byMessage[messageID] = append(byMessage[messageID], call)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i := range chat.Messages {
		if calls, ok := byMessage[chat.Messages[i].ID]; ok {
			chat.Messages[i].ToolCalls = calls
		}
	}
	return nil
}

// ListChats returns metadata for all chats, most recently updated first.
func (s *Store) ListChats(ctx context.Context) ([]ChatMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.model, c.created_at, c.updated_at, c.tokens_used,
		       (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		FROM chats c
		ORDER BY c.updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list chats: %w", err)
	}
	defer rows.Close()

	var out []ChatMeta
	for rows.Next() {
		var meta ChatMeta
		if err := rows.Scan(&meta.ID, &meta.Title, &meta.Model, &meta.CreatedAt,
			&meta.UpdatedAt, &meta.TokensUsed, &meta.MessageCount); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		out = append(out, meta)
	}
	return out, rows.Err()
}

// DeleteChat removes a chat and, via cascade, its messages and tool calls.
func (s *Store) DeleteChat(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
