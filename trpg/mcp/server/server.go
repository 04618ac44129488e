// Package server provides a small MCP tool host speaking the streamable HTTP
// transport. It backs the sample-mcp-server command and the client's
// integration tests.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	internal "github.com/yanghanggit/ai-trpg-sub001/trpg"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

const maxRequestBytes = 1 << 20

// Server contains the router, the registered tools and the live sessions.
type Server struct {
	cfg    config.ServerConfig
	router *chi.Mux
	logger zerolog.Logger

	toolsMu sync.RWMutex
	tools   map[string]Tool
	order   []string

	catalogMu     sync.RWMutex
	resources     map[string]Resource
	resourceOrder []string
	prompts       map[string]Prompt
	promptOrder   []string

	sessionsMu sync.RWMutex
	sessions   map[string]time.Time
}

// New constructs a Server with middleware and routes configured.
func New(cfg config.ServerConfig, logger zerolog.Logger, tools ...Tool) *Server {
	s := &Server{
		cfg:       cfg,
		router:    chi.NewRouter(),
		logger:    logger.With().Str("component", "mcp_server").Logger(),
		tools:     make(map[string]Tool),
		resources: make(map[string]Resource),
		prompts:   make(map[string]Prompt),
		sessions:  make(map[string]time.Time),
	}
	for _, tool := range tools {
		s.Register(tool)
	}

	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Post("/health", s.handleHealth)
	s.router.Route("/mcp", func(r chi.Router) {
		r.Post("/", s.handleRPC)
		r.Delete("/", s.handleTerminate)
	})

	return s
}

// Router exposes the root HTTP handler for the server.
func (s *Server) Router() http.Handler { return s.router }

// Register adds or replaces a tool. Listing order follows first registration.
func (s *Server) Register(tool Tool) {
	s.toolsMu.Lock()
	defer s.toolsMu.Unlock()
	if _, exists := s.tools[tool.Info.Name]; !exists {
		s.order = append(s.order, tool.Info.Name)
	}
	s.tools[tool.Info.Name] = tool
}

// SessionCount returns the number of live sessions.
func (s *Server) SessionCount() int {
	s.sessionsMu.RLock()
	defer s.sessionsMu.RUnlock()
	return len(s.sessions)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, mcp.NewErrorResponse(nil, mcp.NewProtocolError(mcp.CodeParseError, "Parse error: %v", err)))
		return
	}

	if req.Method != mcp.MethodPing {
		writeJSON(w, http.StatusOK, mcp.NewErrorResponse(req.ID, mcp.NewProtocolError(mcp.CodeMethodNotFound, "Method not found")))
		return
	}

	resp, _ := mcp.NewResult(req.ID, map[string]string{"status": "ok"})
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, mcp.NewErrorResponse(nil, mcp.NewProtocolError(mcp.CodeParseError, "Parse error: %v", err)))
		return
	}

	if req.Method == mcp.MethodInitialize {
		s.handleInitialize(w, r, req)
		return
	}

	sessionID := r.Header.Get(mcp.HeaderSessionID)
	if sessionID == "" {
		http.Error(w, "missing session id", http.StatusBadRequest)
		return
	}
	if !s.touchSession(sessionID) {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}

	if req.IsNotification() {
		s.logger.Debug().Str("method", req.Method).Str("session", sessionID).Msg("notification received")
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var (
		result any
		perr   *mcp.ProtocolError
	)
	switch req.Method {
	case mcp.MethodPing:
		result = struct{}{}
	case mcp.MethodToolsList:
		result = mcp.ListToolsResult{Tools: s.toolInfos()}
	case mcp.MethodToolsCall:
		result, perr = s.callTool(r, req)
	case mcp.MethodResourcesList:
		result = mcp.ListResourcesResult{Resources: s.resourceInfos()}
	case mcp.MethodResourcesRead:
		result, perr = s.readResource(r, req)
	case mcp.MethodPromptsList:
		result = mcp.ListPromptsResult{Prompts: s.promptInfos()}
	case mcp.MethodPromptsGet:
		result, perr = s.getPrompt(req)
	default:
		perr = mcp.NewProtocolError(mcp.CodeMethodNotFound, "Method not found: %s", req.Method)
	}

	if perr != nil {
		s.respond(w, r, mcp.NewErrorResponse(req.ID, perr))
		return
	}
	resp, err := mcp.NewResult(req.ID, result)
	if err != nil {
		s.respond(w, r, mcp.NewErrorResponse(req.ID, mcp.NewProtocolError(mcp.CodeInternalError, "encode result: %v", err)))
		return
	}
	s.respond(w, r, resp)
}

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request, req *mcp.Request) {
	var params mcp.InitializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			s.respond(w, r, mcp.NewErrorResponse(req.ID, mcp.NewProtocolError(mcp.CodeInvalidParams, "invalid initialize params: %v", err)))
			return
		}
	}

	version := params.ProtocolVersion
	if version == "" {
		version = internal.DefaultProtocolVersion
	}

	sessionID := uuid.NewString()
	s.sessionsMu.Lock()
	s.sessions[sessionID] = time.Now()
	s.sessionsMu.Unlock()

	s.logger.Info().
		Str("session", sessionID).
		Str("client", params.ClientInfo.Name).
		Str("protocol", version).
		Msg("session opened")

	resp, _ := mcp.NewResult(req.ID, mcp.InitializeResult{
		ProtocolVersion: version,
		Capabilities:    s.capabilities(),
		ServerInfo:      mcp.Implementation{Name: s.cfg.Name, Version: s.cfg.Version},
	})
	w.Header().Set(mcp.HeaderSessionID, sessionID)
	s.respond(w, r, resp)
}

func (s *Server) handleTerminate(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(mcp.HeaderSessionID)
	s.sessionsMu.Lock()
	_, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.sessionsMu.Unlock()

	if !ok {
		http.Error(w, "unknown session", http.StatusNotFound)
		return
	}
	s.logger.Info().Str("session", sessionID).Msg("session closed")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) callTool(r *http.Request, req *mcp.Request) (any, *mcp.ProtocolError) {
	var params struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "invalid tools/call params: %v", err)
	}

	s.toolsMu.RLock()
	tool, ok := s.tools[params.Name]
	s.toolsMu.RUnlock()
	if !ok {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "Unknown tool: %s", params.Name)
	}

	args := params.Arguments
	if len(args) == 0 || string(args) == "null" {
		args = json.RawMessage(`{}`)
	}

	text, err := tool.Handler(r.Context(), args)
	if err != nil {
		s.logger.Warn().Err(err).Str("tool", params.Name).Msg("tool handler failed")
		return mcp.CallToolResult{Content: mcp.TextContent(err.Error()), IsError: true}, nil
	}
	return mcp.CallToolResult{Content: mcp.TextContent(text)}, nil
}

func (s *Server) toolInfos() []mcp.ToolInfo {
	s.toolsMu.RLock()
	defer s.toolsMu.RUnlock()
	infos := make([]mcp.ToolInfo, 0, len(s.order))
	for _, name := range s.order {
		infos = append(infos, s.tools[name].Info)
	}
	return infos
}

func (s *Server) touchSession(id string) bool {
	s.sessionsMu.Lock()
	defer s.sessionsMu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	s.sessions[id] = time.Now()
	return true
}

// respond writes a JSON body, or a one-event SSE stream when streaming is
// enabled and the client accepts it.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, resp *mcp.Response) {
	if !s.cfg.SSE || !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "event: message\ndata: %s\n\n", payload)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func decodeRequest(r *http.Request) (*mcp.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return nil, err
	}
	var req mcp.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	if req.Method == "" {
		return nil, errors.New("missing method")
	}
	return &req, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
