// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/model"
)

// =============================================================================
// NDJSON WIRE TYPES
// =============================================================================

// ndjsonLine is one decoded Ollama-shaped streaming line.
type ndjsonLine struct {
	Message struct {
		Role      string `json:"role"`
		Content   string `json:"content"`
		ToolCalls []struct {
			Function struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls,omitempty"`
	} `json:"message"`
	Done            bool   `json:"done"`
	DoneReason      string `json:"done_reason,omitempty"`
	PromptEvalCount int    `json:"prompt_eval_count,omitempty"`
	EvalCount       int    `json:"eval_count,omitempty"`
	Error           string `json:"error,omitempty"`
}

// =============================================================================
// NDJSON PARSER
// =============================================================================

// NDJSONParser decodes Ollama-shaped newline-delimited JSON chat streams:
// incremental message content, tool calls on any line, and token counts on
// the final line carrying the done flag.
type NDJSONParser struct {
	log zerolog.Logger

	content strings.Builder
	calls   []model.ToolCall
	softErr error
}

// NewNDJSONParser creates a parser for one NDJSON response body.
func NewNDJSONParser(log zerolog.Logger) *NDJSONParser {
	return &NDJSONParser{log: log}
}

// NDJSONFactory returns a Factory producing NDJSON parsers.
func NDJSONFactory(log zerolog.Logger) Factory {
	return func() Parser { return NewNDJSONParser(log) }
}

// Read drains the stream, invoking ev callbacks as lines are decoded.
func (p *NDJSONParser) Read(ctx context.Context, body io.Reader, ev Events) (*ReadResult, error) {
	reader := bufio.NewReader(body)
	result := &ReadResult{}

	for {
		select {
		case <-ctx.Done():
			p.finish(result)
			return result, ctx.Err()
		default:
		}

		line, err := reader.ReadBytes('\n')
		if err != nil && err != io.EOF {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			p.finish(result)
			return result, err
		}
		eof := err == io.EOF

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			done := p.apply(line, result, ev)
			if done {
				break
			}
		}
		if eof {
			break
		}
	}

	p.finish(result)
	return result, nil
}

// apply folds one line into the parser state. Returns true when the line
// carries the done flag.
func (p *NDJSONParser) apply(line []byte, result *ReadResult, ev Events) bool {
	var row ndjsonLine
	if err := json.Unmarshal(line, &row); err != nil {
		err = fmt.Errorf("malformed stream line: %w", err)
		p.log.Warn().Err(err).Msg("stream parse error")
		emitError(ev, err)
		if p.softErr == nil {
			p.softErr = err
		}
		return false
	}

	if row.Error != "" {
		err := fmt.Errorf("provider stream error: %s", row.Error)
		emitError(ev, err)
		if p.softErr == nil {
			p.softErr = err
		}
	}

	if row.Message.Content != "" {
		p.content.WriteString(row.Message.Content)
		emitText(ev, row.Message.Content)
	}

	for _, tc := range row.Message.ToolCalls {
		if tc.Function.Name == "" {
			continue
		}
		call := model.ToolCall{
			ID:        "call_" + uuid.NewString(),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
			Position:  utf8.RuneCountInString(p.content.String()),
		}
		if call.Arguments == nil {
			call.Arguments = map[string]any{}
		}
		emitToolCall(ev, call)
		p.calls = append(p.calls, call)
	}

	if row.Done {
		result.InputTokens = row.PromptEvalCount
		result.OutputTokens = row.EvalCount
		return true
	}
	return false
}

// finish assembles accumulated state into the result.
func (p *NDJSONParser) finish(result *ReadResult) {
	result.Content = p.content.String()
	result.Err = p.softErr

	if len(p.calls) == 0 {
		return
	}
	result.PendingCall = &p.calls[0]
	if len(p.calls) > 1 {
		result.ToolCalls = p.calls[1:]
	}
}
