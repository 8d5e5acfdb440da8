// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/toolhost"
)

// =============================================================================
// READINESS
// =============================================================================

func TestReadyCloudSchema(t *testing.T) {
	p := OpenRouter("some/model", "", "sk-key", zerolog.Nop())
	require.NoError(t, p.Ready())

	p.Key = ""
	err := p.Ready()
	require.Error(t, err)
	assert.True(t, IsNotReady(err))

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"key"}, cerr.Missing)
}

func TestReadyLocalSchemaNeedsNoKey(t *testing.T) {
	p := Ollama("some-model", "", zerolog.Nop())
	require.NoError(t, p.Ready())

	p.Model = ""
	p.BaseURL = ""
	err := p.Ready()
	require.Error(t, err)

	var cerr *ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.ElementsMatch(t, []string{"model", "base"}, cerr.Missing)
}

func TestReadyMissingStrategy(t *testing.T) {
	p := &Provider{Name: "bare", Model: "m", BaseURL: "http://x", Schema: LocalSchema()}
	err := p.Ready()
	require.Error(t, err)
	assert.True(t, IsNotReady(err))
}

// =============================================================================
// HTTP ROUND-TRIP
// =============================================================================

func TestDoSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := OpenRouter("some/model", srv.URL, "sk-key", zerolog.Nop()).WithClient(srv.Client())
	resp, err := p.Do(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "Bearer sk-key", got.Get("Authorization"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.Equal(t, "chatflow", got.Get("X-Title"))
	assert.NotEmpty(t, got.Get("User-Agent"))
}

func TestDoNoAuthWithoutKey(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		io.WriteString(w, "ok")
	}))
	defer srv.Close()

	p := Ollama("m", srv.URL, zerolog.Nop()).WithClient(srv.Client())
	resp, err := p.Do(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, got.Get("Authorization"))
}

func TestDoStatusErrorJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"error":{"code":"bad_key","message":"invalid api key"}}`)
	}))
	defer srv.Close()

	p := Ollama("m", srv.URL, zerolog.Nop()).WithClient(srv.Client())
	_, err := p.Do(context.Background(), []byte(`{}`))
	require.Error(t, err)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusUnauthorized, serr.Code)
	assert.Equal(t, "invalid api key", serr.Message)
}

func TestDoStatusErrorPlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "model is loading")
	}))
	defer srv.Close()

	p := Ollama("m", srv.URL, zerolog.Nop()).WithClient(srv.Client())
	_, err := p.Do(context.Background(), []byte(`{}`))

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusServiceUnavailable, serr.Code)
	assert.Equal(t, "model is loading", serr.Message)
}

func TestDoStatusErrorEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := Ollama("m", srv.URL, zerolog.Nop()).WithClient(srv.Client())
	_, err := p.Do(context.Background(), []byte(`{}`))

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadGateway, serr.Code)
	assert.NotEmpty(t, serr.Message)
}

// =============================================================================
// PAYLOAD BUILDERS
// =============================================================================

func TestBuildOpenAI(t *testing.T) {
	body, err := BuildOpenAI(Request{
		Model: "some/model",
		Messages: []model.Message{
			model.NewSystemMessage("be brief"),
			model.NewUserMessage("hi"),
		},
		Tools: []toolhost.Definition{{
			ID:          toolhost.ToolID{Client: "local", Name: "time"},
			Description: "tells time",
		}},
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "some/model", req["model"])
	assert.Equal(t, true, req["stream"])
	assert.Equal(t, map[string]any{"include_usage": true}, req["stream_options"])

	msgs := req["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])

	tools := req["tools"].([]any)
	require.Len(t, tools, 1)
	fn := tools[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "local--time", fn["name"], "tools are advertised under their qualified name")
	params := fn["parameters"].(map[string]any)
	assert.Equal(t, "object", params["type"], "empty parameter schemas are normalized")
}

func TestBuildOpenAIToolChain(t *testing.T) {
	call := model.ToolCall{
		ID:        "call_1",
		Name:      "local--time",
		Arguments: map[string]any{"zone": "UTC"},
		Response:  "12:00",
	}
	body, err := BuildOpenAI(Request{
		Model: "m",
		Messages: []model.Message{
			model.NewUserMessage("time?"),
			model.NewAssistantMessageWithToolCall("", call),
			model.NewToolResultMessage(call.ID, call.Response),
		},
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	msgs := req["messages"].([]any)
	require.Len(t, msgs, 3)

	asst := msgs[1].(map[string]any)
	calls := asst["tool_calls"].([]any)
	require.Len(t, calls, 1)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, "local--time", fn["name"])
	assert.JSONEq(t, `{"zone":"UTC"}`, fn["arguments"].(string), "arguments replay as a JSON string")

	tool := msgs[2].(map[string]any)
	assert.Equal(t, "tool", tool["role"])
	assert.Equal(t, "call_1", tool["tool_call_id"])
	assert.Equal(t, "12:00", tool["content"])
}

func TestBuildOpenAIMultimodal(t *testing.T) {
	msg := model.NewUserMessage("")
	msg.Parts = []model.Part{
		{Type: "text", Text: "what is this"},
		{Type: "image_url", ImageURL: "https://example.com/x.png"},
	}

	body, err := BuildOpenAI(Request{Model: "m", Messages: []model.Message{msg}})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	content := req["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, content, 2)
	img := content[1].(map[string]any)
	assert.Equal(t, "image_url", img["type"])
	assert.Equal(t, "https://example.com/x.png", img["image_url"].(map[string]any)["url"])
}

func TestBuildOllama(t *testing.T) {
	call := model.ToolCall{Name: "local--time", Arguments: map[string]any{"zone": "UTC"}}
	body, err := BuildOllama(Request{
		Model: "qwen",
		Messages: []model.Message{
			model.NewUserMessage("time?"),
			model.NewAssistantMessageWithToolCall("", call),
		},
	})
	require.NoError(t, err)

	var req map[string]any
	require.NoError(t, json.Unmarshal(body, &req))
	assert.Equal(t, "qwen", req["model"])
	assert.Equal(t, true, req["stream"])

	msgs := req["messages"].([]any)
	asst := msgs[1].(map[string]any)
	calls := asst["tool_calls"].([]any)
	fn := calls[0].(map[string]any)["function"].(map[string]any)
	assert.Equal(t, map[string]any{"zone": "UTC"}, fn["arguments"], "arguments replay as an object")
}
