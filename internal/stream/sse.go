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
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/jeranaias/chatflow/internal/model"
)

// MaxFrameSize is the maximum allowed size for a single SSE data frame.
const MaxFrameSize = 256 * 1024

// =============================================================================
// SSE WIRE TYPES
// =============================================================================

// sseChunk is one decoded OpenAI-shaped streaming frame.
type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id,omitempty"`
				Function struct {
					Name      string `json:"name,omitempty"`
					Arguments string `json:"arguments,omitempty"`
				} `json:"function"`
			} `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// callFragment accumulates one streamed tool call delivered across frames.
type callFragment struct {
	index    int
	id       string
	name     string
	args     strings.Builder
	position int
}

// =============================================================================
// SSE PARSER
// =============================================================================

// SSEParser decodes OpenAI-shaped server-sent-event chat streams: delta
// content, streamed tool-call fragments, usage counters on the final frame,
// and a "[DONE]" terminator.
type SSEParser struct {
	log zerolog.Logger

	content   strings.Builder
	fragments map[int]*callFragment
	softErr   error
}

// NewSSEParser creates a parser for one SSE response body.
func NewSSEParser(log zerolog.Logger) *SSEParser {
	return &SSEParser{
		log:       log,
		fragments: make(map[int]*callFragment),
	}
}

// SSEFactory returns a Factory producing SSE parsers.
func SSEFactory(log zerolog.Logger) Factory {
	return func() Parser { return NewSSEParser(log) }
}

// Read drains the stream, invoking ev callbacks as frames are decoded.
func (p *SSEParser) Read(ctx context.Context, body io.Reader, ev Events) (*ReadResult, error) {
	reader := bufio.NewReader(body)
	result := &ReadResult{}

	for {
		select {
		case <-ctx.Done():
			p.finish(result, ev)
			return result, ctx.Err()
		default:
		}

		data, err := readSSEData(reader)
		if err != nil {
			if err == io.EOF {
				break
			}
			// A transport error after cancellation is cancellation.
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			p.finish(result, ev)
			return result, err
		}
		if len(data) == 0 {
			continue
		}
		if bytes.Equal(data, []byte("[DONE]")) {
			break
		}
		if len(data) > MaxFrameSize {
			p.recordSoftError(ev, fmt.Errorf("sse frame exceeds %d bytes, skipped", MaxFrameSize))
			continue
		}

		var chunk sseChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			p.recordSoftError(ev, fmt.Errorf("malformed sse frame: %w", err))
			continue
		}
		p.apply(&chunk, result, ev)
	}

	p.finish(result, ev)
	return result, nil
}

// apply folds one decoded frame into the parser state.
func (p *SSEParser) apply(chunk *sseChunk, result *ReadResult, ev Events) {
	if chunk.Error != nil {
		p.recordSoftError(ev, fmt.Errorf("provider stream error %d: %s", chunk.Error.Code, chunk.Error.Message))
	}
	if chunk.Usage != nil {
		result.InputTokens = chunk.Usage.PromptTokens
		result.OutputTokens = chunk.Usage.CompletionTokens
	}
	if len(chunk.Choices) == 0 {
		return
	}

	delta := chunk.Choices[0].Delta
	if delta.Content != "" {
		p.content.WriteString(delta.Content)
		emitText(ev, delta.Content)
	}

	for _, tc := range delta.ToolCalls {
		frag, ok := p.fragments[tc.Index]
		if !ok {
			frag = &callFragment{
				index:    tc.Index,
				position: utf8.RuneCountInString(p.content.String()),
			}
			p.fragments[tc.Index] = frag
		}
		if tc.ID != "" {
			frag.id = tc.ID
		}
		if tc.Function.Name != "" {
			frag.name = tc.Function.Name
		}
		frag.args.WriteString(tc.Function.Arguments)
	}
}

// finish assembles accumulated state into the result.
func (p *SSEParser) finish(result *ReadResult, ev Events) {
	result.Content = p.content.String()
	result.Err = p.softErr

	if len(p.fragments) == 0 {
		return
	}

	frags := make([]*callFragment, 0, len(p.fragments))
	for _, f := range p.fragments {
		frags = append(frags, f)
	}
	sort.Slice(frags, func(i, j int) bool { return frags[i].index < frags[j].index })

	calls := make([]model.ToolCall, 0, len(frags))
	for _, f := range frags {
		if f.name == "" {
			p.log.Warn().Int("index", f.index).Msg("discarding tool-call fragment with no name")
			continue
		}
		call := model.ToolCall{
			ID:        f.id,
			Name:      f.name,
			Arguments: decodeArgs(f.args.String(), p.log),
			Position:  f.position,
		}
		emitToolCall(ev, call)
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return
	}

	// One pending call per round; extras arrive finalized.
	result.PendingCall = &calls[0]
	if len(calls) > 1 {
		result.ToolCalls = calls[1:]
	}
}

func (p *SSEParser) recordSoftError(ev Events, err error) {
	p.log.Warn().Err(err).Msg("stream parse error")
	emitError(ev, err)
	if p.softErr == nil {
		p.softErr = err
	}
}

// decodeArgs decodes a streamed JSON argument string, tolerating empty and
// malformed payloads.
func decodeArgs(raw string, log zerolog.Logger) map[string]any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		log.Warn().Err(err).Msg("undecodable tool-call arguments")
		return map[string]any{}
	}
	return args
}

// readSSEData reads the next SSE event and returns its joined data payload.
// Returns io.EOF when the stream ends with no buffered data.
func readSSEData(reader *bufio.Reader) ([]byte, error) {
	var dataLines [][]byte

	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF && len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			if err == io.EOF && len(bytes.TrimSpace(line)) > 0 {
				line = bytes.TrimRight(line, "\r\n")
				if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
					return bytes.TrimSpace(rest), nil
				}
			}
			return nil, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Blank line terminates the event.
		if len(line) == 0 {
			if len(dataLines) > 0 {
				return bytes.Join(dataLines, []byte("\n")), nil
			}
			continue
		}

		if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
			dataLines = append(dataLines, bytes.TrimSpace(rest))
		}
		// Other fields (event:, id:, retry:, comments) are ignored.
	}
}
