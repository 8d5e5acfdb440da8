// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/chatflow/internal/model"
	"github.com/jeranaias/chatflow/internal/provider"
	"github.com/jeranaias/chatflow/internal/stream"
	"github.com/jeranaias/chatflow/internal/toolhost"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// scriptedHost is a ToolHost whose dispatches are scripted by the test.
type scriptedHost struct {
	mu    sync.Mutex
	calls []toolhost.ToolID

	reply   func(id toolhost.ToolID, args map[string]any) toolhost.Result
	started chan struct{}
	release chan struct{}
}

func (s *scriptedHost) Dispatch(ctx context.Context, id toolhost.ToolID, args map[string]any) toolhost.Result {
	s.mu.Lock()
	s.calls = append(s.calls, id)
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	if s.reply != nil {
		return s.reply(id, args)
	}
	return toolhost.Result{Content: "ok"}
}

func (s *scriptedHost) Definitions() []toolhost.Definition { return nil }

func (s *scriptedHost) dispatched() []toolhost.ToolID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]toolhost.ToolID, len(s.calls))
	copy(out, s.calls)
	return out
}

// SSE frame builders for scripted server bodies.
func frameText(text string) string {
	return `data: {"choices":[{"delta":{"content":` + jsonString(text) + `}}]}` + "\n\n"
}

func frameTool(index int, id, name, args string) string {
	return fmt.Sprintf(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":%d,"id":%s,"function":{"name":%s,"arguments":%s}}]}}]}`,
		index, jsonString(id), jsonString(name), jsonString(args),
	) + "\n\n"
}

func frameUsage(in, out int) string {
	return fmt.Sprintf(`data: {"usage":{"prompt_tokens":%d,"completion_tokens":%d}}`, in, out) + "\n\n"
}

const frameDone = "data: [DONE]\n\n"

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// scriptedServer replies with script[n] for the n-th request; past the end
// of the script the last body repeats.
func scriptedServer(requests *atomic.Int32, script ...string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(requests.Add(1)) - 1
		if n >= len(script) {
			n = len(script) - 1
		}
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, script[n])
	}))
}

func testProvider(srv *httptest.Server) *provider.Provider {
	p := &provider.Provider{
		Name:      "test",
		Model:     "test-model",
		BaseURL:   srv.URL,
		Key:       "secret",
		Path:      "/chat/completions",
		Schema:    provider.CloudSchema(),
		Build:     provider.BuildOpenAI,
		NewParser: stream.SSEFactory(zerolog.Nop()),
	}
	return p.WithClient(srv.Client())
}

func userTurn(text string) []model.Message {
	return []model.Message{model.NewUserMessage(text)}
}

// =============================================================================
// ORCHESTRATOR BEHAVIOR
// =============================================================================

func TestChatPlainReply(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests,
		frameText("Hello, ")+frameText("world.")+frameUsage(12, 4)+frameDone,
	)
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop())

	var progress strings.Builder
	var completions atomic.Int32
	out := o.Chat(context.Background(), userTurn("hi"), Handlers{
		OnProgress: func(chunk string) { progress.WriteString(chunk) },
		OnComplete: func(Outcome) { completions.Add(1) },
	})

	require.False(t, out.Failed())
	assert.Equal(t, "Hello, world.", out.Content)
	assert.Equal(t, "Hello, world.", progress.String())
	assert.Empty(t, out.ToolCalls)
	assert.Equal(t, 12, out.InputTokens)
	assert.Equal(t, 4, out.OutputTokens)
	assert.Equal(t, int32(1), requests.Load(), "a reply without tool calls must not recurse")
	assert.Equal(t, int32(1), completions.Load())
}

func TestChatToolCallRoundTrip(t *testing.T) {
	var requests atomic.Int32
	var secondBody atomic.Pointer[[]byte]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		switch n {
		case 1:
			io.WriteString(w, frameTool(0, "call_1", "local--time", `{"zone":"UTC"}`)+frameDone)
		default:
			body, _ := io.ReadAll(r.Body)
			secondBody.Store(&body)
			io.WriteString(w, frameText("It is noon.")+frameDone)
		}
	}))
	defer srv.Close()

	host := &scriptedHost{reply: func(toolhost.ToolID, map[string]any) toolhost.Result {
		return toolhost.Result{Content: "12:00"}
	}}
	o := NewOrchestrator(testProvider(srv), host, zerolog.Nop())

	var toolNames []string
	out := o.Chat(context.Background(), userTurn("what time is it"), Handlers{
		OnToolCallStarted: func(name string) { toolNames = append(toolNames, name) },
	})

	require.False(t, out.Failed())
	assert.Equal(t, "It is noon.", out.Content)
	assert.Equal(t, int32(2), requests.Load())
	assert.Equal(t, []string{"local--time"}, toolNames)

	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "call_1", out.ToolCalls[0].ID)
	assert.Equal(t, "12:00", out.ToolCalls[0].Response)

	require.Equal(t, []toolhost.ToolID{{Client: "local", Name: "time"}}, host.dispatched())

	// The tool result is folded into the follow-up conversation.
	require.NotNil(t, secondBody.Load())
	assert.Contains(t, string(*secondBody.Load()), "12:00")
	assert.Contains(t, string(*secondBody.Load()), `"tool"`)
}

func TestChatDepthCeiling(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		id := fmt.Sprintf("call_%d", n)
		io.WriteString(w, frameTool(0, id, "local--loop", `{}`)+frameDone)
	}))
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop()).WithMaxDepth(3)

	var completions atomic.Int32
	out := o.Chat(context.Background(), userTurn("loop forever"), Handlers{
		OnComplete: func(Outcome) { completions.Add(1) },
	})

	require.True(t, out.Failed())
	assert.Equal(t, CodeInternal, out.Err.Code)
	assert.Equal(t, "maximum recursion depth reached", out.Err.Message)
	assert.False(t, out.Aborted)
	assert.Equal(t, int32(3), requests.Load(), "the ceiling check must precede the network call")
	assert.Equal(t, int32(1), completions.Load())
	assert.Len(t, out.ToolCalls, 3, "accumulated calls survive the ceiling failure")
}

func TestChatNotReadySkipsNetwork(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests, frameText("never")+frameDone)
	defer srv.Close()

	prov := testProvider(srv)
	prov.Key = ""
	o := NewOrchestrator(prov, &scriptedHost{}, zerolog.Nop())

	var reported error
	out := o.Chat(context.Background(), userTurn("hi"), Handlers{
		OnError: func(err error, aborted bool) { reported = err },
	})

	require.True(t, out.Failed())
	assert.Equal(t, CodeConfig, out.Err.Code)
	assert.Contains(t, out.Err.Message, "key")
	assert.Equal(t, int32(0), requests.Load(), "a misconfigured provider must not be contacted")
	assert.True(t, provider.IsNotReady(reported))
}

func TestChatTokensAccumulateAndReset(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests,
		frameTool(0, "call_1", "local--time", `{}`)+frameUsage(10, 5)+frameDone,
		frameText("done")+frameUsage(20, 7)+frameDone,
		frameText("fresh")+frameUsage(3, 2)+frameDone,
	)
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop())

	out := o.Chat(context.Background(), userTurn("first"), Handlers{})
	require.False(t, out.Failed())
	assert.Equal(t, 30, out.InputTokens, "usage sums across round-trips")
	assert.Equal(t, 12, out.OutputTokens)

	out = o.Chat(context.Background(), userTurn("second"), Handlers{})
	require.False(t, out.Failed())
	assert.Equal(t, 3, out.InputTokens, "counters start from zero per top-level call")
	assert.Equal(t, 2, out.OutputTokens)
}

func TestChatToolCallOrdering(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests,
		frameText("checking")+
			frameTool(0, "call_a", "local--first", `{}`)+
			frameTool(1, "call_b", "local--second", `{}`)+
			frameDone,
		frameText("done")+frameDone,
	)
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop())
	out := o.Chat(context.Background(), userTurn("go"), Handlers{})

	require.False(t, out.Failed())
	require.Len(t, out.ToolCalls, 2)
	assert.Equal(t, "local--first", out.ToolCalls[0].Name)
	assert.Equal(t, "local--second", out.ToolCalls[1].Name)
	assert.Equal(t, "ok", out.ToolCalls[0].Response, "only the pending call is dispatched")
	assert.Empty(t, out.ToolCalls[1].Response)
	assert.LessOrEqual(t, out.ToolCalls[0].Position, out.ToolCalls[1].Position)
}

func TestChatToolFailureContinuesChain(t *testing.T) {
	var requests atomic.Int32
	var secondBody atomic.Pointer[[]byte]
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
		switch n {
		case 1:
			io.WriteString(w, frameTool(0, "call_1", "local--read", `{"path":"/nope"}`)+frameDone)
		default:
			body, _ := io.ReadAll(r.Body)
			secondBody.Store(&body)
			io.WriteString(w, frameText("The file does not exist.")+frameDone)
		}
	}))
	defer srv.Close()

	host := &scriptedHost{reply: func(toolhost.ToolID, map[string]any) toolhost.Result {
		return toolhost.Result{Content: "open /nope: no such file", Failed: true}
	}}
	o := NewOrchestrator(testProvider(srv), host, zerolog.Nop())

	out := o.Chat(context.Background(), userTurn("read it"), Handlers{})

	require.False(t, out.Failed(), "a tool failure is an answer, not an orchestration error")
	assert.Equal(t, "The file does not exist.", out.Content)
	assert.Equal(t, int32(2), requests.Load())
	require.Len(t, out.ToolCalls, 1)
	assert.Equal(t, "open /nope: no such file", out.ToolCalls[0].Response)

	require.NotNil(t, secondBody.Load())
	assert.Contains(t, string(*secondBody.Load()), "no such file")
}

func TestChatUnknownToolContinuesChain(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests,
		frameTool(0, "call_1", "local--missing", `{}`)+frameDone,
		frameText("no such tool here")+frameDone,
	)
	defer srv.Close()

	registry := toolhost.NewRegistry()
	host := toolhost.NewHost(registry, zerolog.Nop())
	o := NewOrchestrator(testProvider(srv), host, zerolog.Nop())

	out := o.Chat(context.Background(), userTurn("go"), Handlers{})

	require.False(t, out.Failed())
	require.Len(t, out.ToolCalls, 1)
	assert.Contains(t, out.ToolCalls[0].Response, "unknown tool")
	assert.Equal(t, int32(2), requests.Load())
}

func TestAbortMidStream(t *testing.T) {
	streaming := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, frameText("partial answer"))
		w.(http.Flusher).Flush()
		close(streaming)
		<-r.Context().Done()
	}))
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop())

	var completions atomic.Int32
	done := make(chan Outcome, 1)
	go func() {
		done <- o.Chat(context.Background(), userTurn("hi"), Handlers{
			OnComplete: func(Outcome) { completions.Add(1) },
		})
	}()

	<-streaming
	o.Abort()

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not complete the call")
	}

	require.True(t, out.Failed())
	assert.True(t, out.Aborted)
	assert.Equal(t, CodeAborted, out.Err.Code)
	assert.Equal(t, "partial answer", out.Content, "partial output survives an abort")
	assert.Equal(t, int32(1), completions.Load(), "completion fires exactly once on abort")
}

func TestAbortDuringToolDispatch(t *testing.T) {
	var requests atomic.Int32
	srv := scriptedServer(&requests,
		frameTool(0, "call_1", "local--slow", `{}`)+frameDone,
	)
	defer srv.Close()

	host := &scriptedHost{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	o := NewOrchestrator(testProvider(srv), host, zerolog.Nop())

	done := make(chan Outcome, 1)
	go func() {
		done <- o.Chat(context.Background(), userTurn("slow"), Handlers{})
	}()

	<-host.started
	o.Abort()
	close(host.release)

	var out Outcome
	select {
	case out = <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("abort did not complete the call")
	}

	require.True(t, out.Failed())
	assert.True(t, out.Aborted)
	assert.Equal(t, CodeAborted, out.Err.Code)
	assert.Equal(t, int32(1), requests.Load(), "no further round-trip after abort")
}

func TestChatStatusErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"code":"rate_limited","message":"rate limited"}}`)
	}))
	defer srv.Close()

	o := NewOrchestrator(testProvider(srv), &scriptedHost{}, zerolog.Nop())
	out := o.Chat(context.Background(), userTurn("hi"), Handlers{})

	require.True(t, out.Failed())
	assert.Equal(t, 429, out.Err.Code)
	assert.Contains(t, out.Err.Message, "rate limited")
	assert.False(t, out.Aborted)
}
