// Package mcp implements the client side of the MCP streamable HTTP transport:
// JSON-RPC 2.0 over POST, with responses delivered either as a plain JSON body
// or as a Server-Sent-Events stream.
package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	internal "github.com/yanghanggit/ai-trpg-sub001/trpg"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
)

// Client is a single MCP session against one tool host.
// It is safe for concurrent use once connected.
type Client struct {
	cfg    config.MCPConfig
	http   *http.Client
	logger zerolog.Logger

	mu        sync.RWMutex
	sessionID string
	connected bool

	// toolsMu is held across the tools/list round trip so the catalog is
	// fetched at most once per session.
	toolsMu     sync.Mutex
	tools       []ToolInfo
	toolsLoaded bool
}

// NewClient creates an unconnected client. Zero-valued settings take the
// package defaults.
func NewClient(cfg config.MCPConfig, logger zerolog.Logger) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("component", "mcp_client").Logger(),
	}
}

func withDefaults(cfg config.MCPConfig) config.MCPConfig {
	if cfg.BaseURL == "" {
		cfg.BaseURL = internal.DefaultMCPBaseURL
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = internal.DefaultMCPEndpoint
	}
	if cfg.HealthEndpoint == "" {
		cfg.HealthEndpoint = internal.DefaultHealthEndpoint
	}
	if cfg.ProtocolVersion == "" {
		cfg.ProtocolVersion = internal.DefaultProtocolVersion
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ClientName == "" {
		cfg.ClientName = internal.DefaultClientName
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = internal.DefaultClientVersion
	}
	return cfg
}

// SessionID returns the id captured during the handshake, or "".
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Connected reports whether the handshake completed.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Connect performs the initialize handshake and sends the initialized
// notification. Calling Connect on a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}

	url := c.url(c.cfg.Endpoint)
	if err := c.initialize(ctx); err != nil {
		c.reset()
		c.logger.Error().Err(err).Str("url", url).Msg("mcp connect failed")
		return &ConnectionError{URL: url, Err: err}
	}
	return nil
}

func (c *Client) initialize(ctx context.Context) error {
	req, err := NewRequest(MethodInitialize, InitializeParams{
		ProtocolVersion: c.cfg.ProtocolVersion,
		Capabilities: ClientCapabilities{
			Experimental: map[string]any{},
			Sampling:     map[string]any{},
		},
		ClientInfo: Implementation{Name: c.cfg.ClientName, Version: c.cfg.ClientVersion},
	})
	if err != nil {
		return err
	}

	resp, err := c.post(ctx, c.cfg.Endpoint, req)
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return fmt.Errorf("initialize rejected: %w", resp.Error)
	}

	sessionID := c.SessionID()
	if sessionID == "" {
		return ErrNoSession
	}

	var result InitializeResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			c.logger.Debug().Err(err).Msg("initialize result not decodable, continuing")
		}
	}

	c.notify(ctx, c.cfg.Endpoint, MethodInitialized)

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	c.logger.Info().
		Str("session", shortID(sessionID)).
		Str("server", result.ServerInfo.Name).
		Str("protocol", c.cfg.ProtocolVersion).
		Msg("mcp session established")
	return nil
}

// Disconnect drops the session and the tool catalog. Safe to call repeatedly.
func (c *Client) Disconnect() {
	c.toolsMu.Lock()
	c.tools = nil
	c.toolsLoaded = false
	c.toolsMu.Unlock()

	wasConnected := c.Connected()
	c.reset()
	c.http.CloseIdleConnections()

	if wasConnected {
		c.logger.Info().Msg("mcp client disconnected")
	}
}

func (c *Client) reset() {
	c.mu.Lock()
	c.sessionID = ""
	c.connected = false
	c.mu.Unlock()
}

// CheckHealth pings the health endpoint. A JSON-RPC error or an HTTP error
// status is reported as false; only faults below HTTP surface as errors.
func (c *Client) CheckHealth(ctx context.Context) (bool, error) {
	if !c.Connected() {
		return false, nil
	}

	req, err := NewRequest(MethodPing, nil)
	if err != nil {
		return false, err
	}

	resp, err := c.post(ctx, c.cfg.HealthEndpoint, req)
	if err != nil {
		c.logger.Warn().Err(err).Msg("health check failed")
		var terr *TransportError
		if errors.As(err, &terr) {
			return false, nil
		}
		return false, err
	}
	return resp.Error == nil, nil
}

// ListTools returns the tool catalog, fetching it on first use. Subsequent
// calls are served from the cache until Disconnect.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()

	if c.toolsLoaded {
		return slices.Clone(c.tools), nil
	}
	if !c.Connected() {
		return nil, ErrNotConnected
	}

	req, err := NewRequest(MethodToolsList, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.post(ctx, c.cfg.Endpoint, req)
	if err != nil {
		c.logger.Error().Err(err).Msg("tools/list failed")
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if resp.Error != nil {
		c.logger.Error().Err(resp.Error).Msg("tools/list rejected")
		return nil, fmt.Errorf("list tools: %w", resp.Error)
	}

	var result ListToolsResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &result); err != nil {
			return nil, fmt.Errorf("decode tools/list result: %w", err)
		}
	}

	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, tool := range result.Tools {
		if tool.Name == "" {
			c.logger.Warn().Str("schema", string(tool.InputSchema)).Msg("skipping unnamed tool")
			continue
		}
		tools = append(tools, tool)
	}

	c.tools = tools
	c.toolsLoaded = true
	c.logger.Info().Int("count", len(tools)).Msg("tool catalog loaded")

	return slices.Clone(tools), nil
}

// CallTool invokes a tool. Remote and transport failures are reported in the
// returned ToolResult, never as a Go error.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]any) ToolResult {
	start := time.Now()
	fail := func(msg string) ToolResult {
		return ToolResult{Success: false, Error: msg, ExecutionTime: time.Since(start)}
	}

	if !c.Connected() {
		return fail(ErrNotConnected.Error())
	}
	if arguments == nil {
		arguments = map[string]any{}
	}

	req, err := NewRequest(MethodToolsCall, CallToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return fail(err.Error())
	}

	resp, err := c.post(ctx, c.cfg.Endpoint, req)
	if err != nil {
		c.logger.Error().Err(err).Str("tool", name).Msg("tool call transport failure")
		return fail(fmt.Sprintf("tool call %s: %v", name, err))
	}
	if resp.Error != nil {
		c.logger.Error().Str("tool", name).Int("code", resp.Error.Code).Msg(resp.Error.Message)
		return fail(resp.Error.Message)
	}

	text, isError := resultText(resp.Result)
	elapsed := time.Since(start)
	if isError {
		c.logger.Warn().Str("tool", name).Msg("tool reported an error result")
		return ToolResult{Success: false, Error: text, ExecutionTime: elapsed}
	}

	c.logger.Debug().Str("tool", name).Dur("elapsed", elapsed).Msg("tool call succeeded")
	return ToolResult{Success: true, Result: text, ExecutionTime: elapsed}
}

// resultText joins the text parts of a tools/call result. With no text parts
// the raw content array is returned, and with no content the raw result.
func resultText(raw json.RawMessage) (string, bool) {
	var result struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return string(raw), false
	}

	var parts []ContentPart
	if err := json.Unmarshal(result.Content, &parts); err != nil || len(parts) == 0 {
		return string(raw), result.IsError
	}

	texts := make([]string, 0, len(parts))
	for _, part := range parts {
		if part.Type == "text" {
			texts = append(texts, part.Text)
		}
	}
	if len(texts) == 0 {
		return string(result.Content), result.IsError
	}
	return strings.Join(texts, "\n"), result.IsError
}

// post sends one request and decodes the single response. The first
// session id seen in a response header is kept for the life of the session.
func (c *Client) post(ctx context.Context, path string, req *Request) (*Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", req.Method, err)
	}

	url := c.url(path)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	httpReq.Header.Set("Accept", acceptBoth)
	c.setSessionHeaders(httpReq)

	c.logger.Debug().Str("method", req.Method).Str("url", url).Msg("mcp request")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	c.captureSession(httpResp)

	if httpResp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		return nil, &TransportError{URL: url, StatusCode: httpResp.StatusCode, Body: string(errBody)}
	}

	var raw json.RawMessage
	if strings.Contains(httpResp.Header.Get("Content-Type"), contentTypeEventStream) {
		raw, err = decodeEventStream(httpResp.Body, c.logger)
		if err != nil {
			return nil, err
		}
		if raw == nil {
			c.logger.Warn().Str("method", req.Method).Msg("event stream carried no JSON frame")
			return &Response{}, nil
		}
	} else {
		raw, err = io.ReadAll(httpResp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
	}

	var resp Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", req.Method, err)
	}
	return &resp, nil
}

// notify sends a notification and discards any body. Failures are logged only.
func (c *Client) notify(ctx context.Context, path, method string) {
	req, err := NewNotification(method, nil)
	if err != nil {
		return
	}
	body, err := json.Marshal(req)
	if err != nil {
		return
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(body))
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Msg("notification not sent")
		return
	}
	httpReq.Header.Set("Content-Type", contentTypeJSON)
	c.setSessionHeaders(httpReq)

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn().Err(err).Str("method", method).Msg("notification failed")
		return
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		errBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 64*1024))
		c.logger.Warn().Int("status", httpResp.StatusCode).Str("body", string(errBody)).Str("method", method).Msg("notification rejected")
		return
	}
	_, _ = io.Copy(io.Discard, httpResp.Body)
}

func (c *Client) setSessionHeaders(req *http.Request) {
	req.Header.Set(HeaderProtocolVersion, c.cfg.ProtocolVersion)
	if sid := c.SessionID(); sid != "" {
		req.Header.Set(HeaderSessionID, sid)
	}
}

func (c *Client) captureSession(resp *http.Response) {
	sid := resp.Header.Get(HeaderSessionID)
	if sid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionID == "" {
		c.sessionID = sid
		c.logger.Debug().Str("session", shortID(sid)).Msg("captured session id")
	}
}

func (c *Client) url(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
