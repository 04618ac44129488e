package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
)

type recordedCall struct {
	Path     string
	Method   string
	Session  string
	Protocol string
	Accept   string
	Params   json.RawMessage
}

type hostHandler func(req Request) (int, *Response)

// testHost is a scriptable tool host.
type testHost struct {
	srv *httptest.Server

	mu        sync.Mutex
	calls     []recordedCall
	sessionID string
	sse       bool
	handlers  map[string]hostHandler
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	h := &testHost{
		sessionID: "session-0123456789",
		handlers:  make(map[string]hostHandler),
	}
	h.handlers[MethodInitialize] = func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, InitializeResult{
			ProtocolVersion: "2025-06-18",
			ServerInfo:      Implementation{Name: "fake", Version: "0.0.1"},
		})
		return http.StatusOK, resp
	}
	h.handlers[MethodPing] = func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, map[string]string{"status": "ok"})
		return http.StatusOK, resp
	}
	h.srv = httptest.NewServer(http.HandlerFunc(h.serve))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHost) handle(method string, fn hostHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[method] = fn
}

func (h *testHost) serve(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	h.calls = append(h.calls, recordedCall{
		Path:     r.URL.Path,
		Method:   req.Method,
		Session:  r.Header.Get(HeaderSessionID),
		Protocol: r.Header.Get(HeaderProtocolVersion),
		Accept:   r.Header.Get("Accept"),
		Params:   req.Params,
	})
	handler := h.handlers[req.Method]
	sse := h.sse
	sid := h.sessionID
	h.mu.Unlock()

	if req.Method == MethodInitialize && sid != "" {
		w.Header().Set(HeaderSessionID, sid)
	}
	if req.IsNotification() {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	status, resp := http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeMethodNotFound, "Method not found"))
	if handler != nil {
		status, resp = handler(req)
	}
	if status >= http.StatusBadRequest {
		http.Error(w, "boom", status)
		return
	}

	payload, _ := json.Marshal(resp)
	if sse {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"jsonrpc\":\"2.0\",\"method\":\"notifications/progress\"}\n\n")
		fmt.Fprintf(w, "data: %s\n\n", payload)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (h *testHost) count(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

func (h *testHost) last(method string) recordedCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := len(h.calls) - 1; i >= 0; i-- {
		if h.calls[i].Method == method {
			return h.calls[i]
		}
	}
	return recordedCall{}
}

func (h *testHost) client() *Client {
	return NewClient(config.MCPConfig{BaseURL: h.srv.URL, Timeout: 2 * time.Second}, zerolog.Nop())
}

func toolResult(text string, isError bool) hostHandler {
	return func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, CallToolResult{Content: TextContent(text), IsError: isError})
		return http.StatusOK, resp
	}
}

func TestConnect_Handshake(t *testing.T) {
	host := newTestHost(t)
	client := host.client()

	require.NoError(t, client.Connect(context.Background()))
	assert.True(t, client.Connected())
	assert.Equal(t, "session-0123456789", client.SessionID())

	init := host.last(MethodInitialize)
	assert.Equal(t, "/mcp", init.Path)
	assert.Empty(t, init.Session)
	assert.Equal(t, "2025-06-18", init.Protocol)
	assert.Equal(t, "application/json, text/event-stream", init.Accept)

	var params InitializeParams
	require.NoError(t, json.Unmarshal(init.Params, &params))
	assert.Equal(t, "2025-06-18", params.ProtocolVersion)
	assert.NotNil(t, params.Capabilities.Experimental)
	assert.NotNil(t, params.Capabilities.Sampling)
	assert.NotEmpty(t, params.ClientInfo.Name)

	notified := host.last(MethodInitialized)
	assert.Equal(t, "session-0123456789", notified.Session)

	// second connect is a no-op
	require.NoError(t, client.Connect(context.Background()))
	assert.Equal(t, 1, host.count(MethodInitialize))
}

func TestConnect_MissingSessionID(t *testing.T) {
	host := newTestHost(t)
	host.sessionID = ""
	client := host.client()

	err := client.Connect(context.Background())
	require.Error(t, err)

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.False(t, client.Connected())
	assert.Zero(t, host.count(MethodInitialized))
}

func TestConnect_InitializeRejected(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodInitialize, func(req Request) (int, *Response) {
		return http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeInvalidParams, "unsupported protocol version"))
	})
	client := host.client()

	err := client.Connect(context.Background())
	require.Error(t, err)

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, CodeInvalidParams, perr.Code)
	assert.Empty(t, client.SessionID())
}

func TestConnect_HTTPError(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodInitialize, func(req Request) (int, *Response) { return http.StatusInternalServerError, nil })
	client := host.client()

	err := client.Connect(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusInternalServerError, terr.StatusCode)
	assert.Contains(t, terr.Body, "boom")
}

func TestConnect_EndpointNotFound(t *testing.T) {
	host := newTestHost(t)
	client := NewClient(config.MCPConfig{BaseURL: host.srv.URL, Endpoint: "/missing"}, zerolog.Nop())
	host.handle(MethodInitialize, func(req Request) (int, *Response) { return http.StatusNotFound, nil })

	err := client.Connect(context.Background())

	var terr *TransportError
	require.ErrorAs(t, err, &terr)
	assert.Contains(t, terr.Error(), "endpoint not found")
}

func TestSessionHeaderOnLaterRequests(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodToolsCall, toolResult("ok", false))
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	client.CallTool(context.Background(), "echo", nil)
	_, _ = client.CheckHealth(context.Background())

	call := host.last(MethodToolsCall)
	assert.Equal(t, "session-0123456789", call.Session)
	assert.Equal(t, "2025-06-18", call.Protocol)

	ping := host.last(MethodPing)
	assert.Equal(t, "/health", ping.Path)
	assert.Equal(t, "session-0123456789", ping.Session)
}

func TestListTools_FetchedOnce(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodToolsList, func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, ListToolsResult{Tools: []ToolInfo{
			{Name: "calculator", Description: "math", InputSchema: json.RawMessage(`{"type":"object","properties":{"operation":{"type":"string"}},"required":["operation"]}`)},
			{Name: "", Description: "nameless"},
			{Name: "system_info", Description: "host"},
		}})
		return http.StatusOK, resp
	})
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	first, err := client.ListTools(context.Background())
	require.NoError(t, err)
	second, err := client.ListTools(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, host.count(MethodToolsList))
	require.Len(t, first, 2)
	assert.Equal(t, first, second)
	assert.Equal(t, "calculator", first[0].Name)

	// a new session refetches
	client.Disconnect()
	require.NoError(t, client.Connect(context.Background()))
	_, err = client.ListTools(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, host.count(MethodToolsList))
}

func TestListTools_Failure(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodToolsList, func(req Request) (int, *Response) {
		return http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeInternalError, "catalog unavailable"))
	})
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	tools, err := client.ListTools(context.Background())
	assert.Nil(t, tools)
	assert.Error(t, err)

	notConnected := host.client()
	tools, err = notConnected.ListTools(context.Background())
	assert.Nil(t, tools)
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestCallTool_JoinsTextParts(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodToolsCall, func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, CallToolResult{Content: []ContentPart{
			{Type: "text", Text: "line one"},
			{Type: "image"},
			{Type: "text", Text: "line two"},
		}})
		return http.StatusOK, resp
	})
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	result := client.CallTool(context.Background(), "echo", map[string]any{"x": 1})

	assert.True(t, result.Success)
	assert.Equal(t, "line one\nline two", result.Result)
	assert.Empty(t, result.Error)
	assert.Greater(t, result.ExecutionTime, time.Duration(0))

	var params CallToolParams
	require.NoError(t, json.Unmarshal(host.last(MethodToolsCall).Params, &params))
	assert.Equal(t, "echo", params.Name)
	assert.Equal(t, map[string]any{"x": float64(1)}, params.Arguments)
}

func TestCallTool_NilArgumentsSentAsObject(t *testing.T) {
	host := newTestHost(t)
	host.handle(MethodToolsCall, toolResult("ok", false))
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	client.CallTool(context.Background(), "system_info", nil)

	assert.JSONEq(t, `{"name":"system_info","arguments":{}}`, string(host.last(MethodToolsCall).Params))
}

func TestCallTool_NonTextContentAndBareResult(t *testing.T) {
	host := newTestHost(t)
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	host.handle(MethodToolsCall, func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, map[string]any{"content": []map[string]string{{"type": "image", "data": "AAA"}}})
		return http.StatusOK, resp
	})
	result := client.CallTool(context.Background(), "snap", nil)
	assert.True(t, result.Success)
	assert.JSONEq(t, `[{"type":"image","data":"AAA"}]`, result.Result)

	host.handle(MethodToolsCall, func(req Request) (int, *Response) {
		resp, _ := NewResult(req.ID, map[string]int{"value": 3})
		return http.StatusOK, resp
	})
	result = client.CallTool(context.Background(), "bare", nil)
	assert.True(t, result.Success)
	assert.JSONEq(t, `{"value":3}`, result.Result)
}

func TestCallTool_Failures(t *testing.T) {
	host := newTestHost(t)
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	t.Run("rpc error", func(t *testing.T) {
		host.handle(MethodToolsCall, func(req Request) (int, *Response) {
			return http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeInvalidParams, "Unknown tool: nope"))
		})
		result := client.CallTool(context.Background(), "nope", nil)
		assert.False(t, result.Success)
		assert.Equal(t, "Unknown tool: nope", result.Error)
		assert.Empty(t, result.Result)
	})

	t.Run("tool error result", func(t *testing.T) {
		host.handle(MethodToolsCall, toolResult("division by zero", true))
		result := client.CallTool(context.Background(), "calculator", nil)
		assert.False(t, result.Success)
		assert.Equal(t, "division by zero", result.Error)
	})

	t.Run("http error", func(t *testing.T) {
		host.handle(MethodToolsCall, func(req Request) (int, *Response) { return http.StatusBadGateway, nil })
		result := client.CallTool(context.Background(), "calculator", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "502")
	})

	t.Run("canceled context", func(t *testing.T) {
		host.handle(MethodToolsCall, toolResult("late", false))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		result := client.CallTool(ctx, "calculator", nil)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "canceled")
	})
}

func TestCallTool_NotConnected(t *testing.T) {
	host := newTestHost(t)
	client := host.client()

	result := client.CallTool(context.Background(), "calculator", nil)

	assert.False(t, result.Success)
	assert.Equal(t, ErrNotConnected.Error(), result.Error)
	assert.Zero(t, host.count(MethodToolsCall))
}

func TestCallTool_ServerGone(t *testing.T) {
	host := newTestHost(t)
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))
	host.srv.Close()

	result := client.CallTool(context.Background(), "calculator", nil)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Error)
}

func TestEventStreamResponses(t *testing.T) {
	host := newTestHost(t)
	host.sse = true
	host.handle(MethodToolsCall, toolResult("streamed", false))
	client := host.client()

	require.NoError(t, client.Connect(context.Background()))
	result := client.CallTool(context.Background(), "echo", nil)

	assert.True(t, result.Success)
	assert.Equal(t, "streamed", result.Result)
}

func TestCheckHealth(t *testing.T) {
	host := newTestHost(t)
	client := host.client()

	healthy, err := client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, healthy, "unconnected client is never healthy")

	require.NoError(t, client.Connect(context.Background()))
	healthy, err = client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.True(t, healthy)

	host.handle(MethodPing, func(req Request) (int, *Response) {
		return http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeMethodNotFound, "Method not found"))
	})
	healthy, err = client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, healthy)

	host.handle(MethodPing, func(req Request) (int, *Response) { return http.StatusServiceUnavailable, nil })
	healthy, err = client.CheckHealth(context.Background())
	require.NoError(t, err)
	assert.False(t, healthy)

	host.srv.Close()
	healthy, err = client.CheckHealth(context.Background())
	assert.Error(t, err)
	assert.False(t, healthy)
}

func TestDisconnect_Idempotent(t *testing.T) {
	host := newTestHost(t)
	client := host.client()
	require.NoError(t, client.Connect(context.Background()))

	client.Disconnect()
	client.Disconnect()

	assert.False(t, client.Connected())
	assert.Empty(t, client.SessionID())
}

func TestDial(t *testing.T) {
	host := newTestHost(t)

	client, err := Dial(context.Background(), config.MCPConfig{BaseURL: host.srv.URL}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, client.Connected())

	host.handle(MethodPing, func(req Request) (int, *Response) {
		return http.StatusOK, NewErrorResponse(req.ID, NewProtocolError(CodeInternalError, "down"))
	})
	client, err = Dial(context.Background(), config.MCPConfig{BaseURL: host.srv.URL}, zerolog.Nop())
	assert.Nil(t, client)
	assert.True(t, errors.Is(err, ErrUnhealthy))
}

func TestFormatToolDescriptions(t *testing.T) {
	assert.Equal(t, "No tools available", FormatToolDescriptions(nil))

	tools := []ToolInfo{
		{
			Name:        "calculator",
			Description: "Simple calculator",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"operation":{"type":"string","description":"what to do"},"precision":{"type":["integer","null"]}},"required":["operation"]}`),
		},
		{Name: "system_info", Description: "Host details"},
	}

	out := FormatToolDescriptions(tools)
	assert.Equal(t,
		"- calculator: Simple calculator Parameters: operation: what to do (required), precision: no description (optional)\n"+
			"- system_info: Host details",
		out)

	schema, err := tools[0].Schema()
	require.NoError(t, err)
	assert.Equal(t, "integer", schema.Properties["precision"].TypeName())
	assert.Equal(t, "string", schema.Properties["operation"].TypeName())
}
