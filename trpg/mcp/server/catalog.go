package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"strings"

	internal "github.com/yanghanggit/ai-trpg-sub001/trpg"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

// ResourceReader produces the current text of a resource.
type ResourceReader func(ctx context.Context) (string, error)

// Resource pairs the advertised descriptor with its reader.
type Resource struct {
	Info mcp.ResourceInfo
	Read ResourceReader
}

// PromptRenderer fills a template from its arguments.
type PromptRenderer func(args map[string]string) (mcp.GetPromptResult, error)

// Prompt pairs the advertised template descriptor with its renderer.
type Prompt struct {
	Info   mcp.PromptInfo
	Render PromptRenderer
}

// RegisterResource adds or replaces a resource keyed by URI.
func (s *Server) RegisterResource(res Resource) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if _, exists := s.resources[res.Info.URI]; !exists {
		s.resourceOrder = append(s.resourceOrder, res.Info.URI)
	}
	s.resources[res.Info.URI] = res
}

// RegisterPrompt adds or replaces a prompt template keyed by name.
func (s *Server) RegisterPrompt(p Prompt) {
	s.catalogMu.Lock()
	defer s.catalogMu.Unlock()
	if _, exists := s.prompts[p.Info.Name]; !exists {
		s.promptOrder = append(s.promptOrder, p.Info.Name)
	}
	s.prompts[p.Info.Name] = p
}

// RegisterDefaults adds the bundled resources and prompt templates.
func (s *Server) RegisterDefaults() {
	s.RegisterResource(s.StatusResource())
	s.RegisterResource(CapabilitiesResource(internal.DefaultProtocolVersion))
	s.RegisterPrompt(SystemAnalysisPrompt())
}

func (s *Server) capabilities() mcp.ServerCapabilities {
	caps := mcp.ServerCapabilities{Tools: &mcp.ToolsCapability{}}
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	if len(s.resources) > 0 {
		caps.Resources = &mcp.ResourcesCapability{}
	}
	if len(s.prompts) > 0 {
		caps.Prompts = &mcp.PromptsCapability{}
	}
	return caps
}

func (s *Server) resourceInfos() []mcp.ResourceInfo {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	infos := make([]mcp.ResourceInfo, 0, len(s.resourceOrder))
	for _, uri := range s.resourceOrder {
		infos = append(infos, s.resources[uri].Info)
	}
	return infos
}

func (s *Server) promptInfos() []mcp.PromptInfo {
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	infos := make([]mcp.PromptInfo, 0, len(s.promptOrder))
	for _, name := range s.promptOrder {
		infos = append(infos, s.prompts[name].Info)
	}
	return infos
}

func (s *Server) readResource(r *http.Request, req *mcp.Request) (any, *mcp.ProtocolError) {
	var params mcp.ReadResourceParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "invalid resources/read params: %v", err)
	}

	s.catalogMu.RLock()
	res, ok := s.resources[params.URI]
	s.catalogMu.RUnlock()
	if !ok {
		return nil, mcp.NewProtocolError(mcp.CodeResourceNotFound, "Resource not found: %s", params.URI)
	}

	text, err := res.Read(r.Context())
	if err != nil {
		s.logger.Warn().Err(err).Str("uri", params.URI).Msg("resource read failed")
		return nil, mcp.NewProtocolError(mcp.CodeInternalError, "read %s: %v", params.URI, err)
	}
	return mcp.ReadResourceResult{Contents: []mcp.ResourceContents{{
		URI:      params.URI,
		MimeType: res.Info.MimeType,
		Text:     text,
	}}}, nil
}

func (s *Server) getPrompt(req *mcp.Request) (any, *mcp.ProtocolError) {
	var params mcp.GetPromptParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "invalid prompts/get params: %v", err)
	}

	s.catalogMu.RLock()
	p, ok := s.prompts[params.Name]
	s.catalogMu.RUnlock()
	if !ok {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "Unknown prompt: %s", params.Name)
	}

	for _, arg := range p.Info.Arguments {
		if _, given := params.Arguments[arg.Name]; arg.Required && !given {
			return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "missing required argument: %s", arg.Name)
		}
	}

	result, err := p.Render(params.Arguments)
	if err != nil {
		return nil, mcp.NewProtocolError(mcp.CodeInvalidParams, "render %s: %v", params.Name, err)
	}
	return result, nil
}

func (s *Server) counts() (tools, resources, prompts int) {
	s.toolsMu.RLock()
	tools = len(s.tools)
	s.toolsMu.RUnlock()
	s.catalogMu.RLock()
	defer s.catalogMu.RUnlock()
	return tools, len(s.resources), len(s.prompts)
}

// StatusResource reports live counters of s as config://server-status.
func (s *Server) StatusResource() Resource {
	return Resource{
		Info: mcp.ResourceInfo{
			URI:         "config://server-status",
			Name:        "server-status",
			Description: "Live server status: catalog sizes, open sessions and memory use.",
			MimeType:    "application/json",
		},
		Read: func(context.Context) (string, error) {
			tools, resources, prompts := s.counts()
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			return marshalIndent(map[string]any{
				"server_name":    s.cfg.Name,
				"server_version": s.cfg.Version,
				"status":         "ok",
				"tools":          tools,
				"resources":      resources,
				"prompts":        prompts,
				"sessions":       s.SessionCount(),
				"goroutines":     runtime.NumGoroutine(),
				"heap_alloc_mb":  fmt.Sprintf("%.2f", float64(mem.HeapAlloc)/1024/1024),
			})
		},
	}
}

// CapabilitiesResource describes what the sample host offers.
func CapabilitiesResource(protocolVersion string) Resource {
	return Resource{
		Info: mcp.ResourceInfo{
			URI:         "config://capabilities",
			Name:        "capabilities",
			Description: "Transports, tools, resources and prompt templates of this server.",
			MimeType:    "application/json",
		},
		Read: func(context.Context) (string, error) {
			return marshalIndent(map[string]any{
				"protocol_version": protocolVersion,
				"transports":       []string{"streamable-http"},
				"tools": map[string]string{
					"get_current_time": "current time in several formats",
					"system_info":      "host and runtime details",
					"calculator":       "add, subtract, multiply, divide, power and modulo",
				},
				"resources": map[string]string{
					"config://server-status": "live server status",
					"config://capabilities":  "this document",
				},
				"prompts": map[string]string{
					"system_analysis": "general, performance, security and troubleshooting analysis templates",
				},
			})
		},
	}
}

var analysisFocus = map[string][]string{
	"general": {
		"overall health of the system",
		"resource usage",
		"likely performance bottlenecks",
		"recommended optimizations",
		"risks and early warnings",
	},
	"performance": {
		"CPU usage and load pattern",
		"memory efficiency and leak risk",
		"disk I/O",
		"network throughput and latency",
		"bottleneck identification",
	},
	"security": {
		"missing patches and known vulnerabilities",
		"access control and permissions",
		"network exposure",
		"logging and anomaly detection",
		"data protection and backups",
	},
	"troubleshooting": {
		"errors and exceptions",
		"service availability",
		"resource bottlenecks",
		"configuration problems",
		"root cause",
	},
}

// SystemAnalysisPrompt renders an analysis request for system data.
// Unknown analysis types fall back to general. Any other argument fills the
// matching {placeholder} in the template.
func SystemAnalysisPrompt() Prompt {
	return Prompt{
		Info: mcp.PromptInfo{
			Name:        "system_analysis",
			Description: "Ask for an analysis of system information.",
			Arguments: []mcp.PromptArgument{
				{Name: "analysis_type", Description: "general, performance, security or troubleshooting"},
				{Name: "system_data", Description: "the data to analyse, for example the system_info tool output"},
			},
		},
		Render: func(args map[string]string) (mcp.GetPromptResult, error) {
			kind := args["analysis_type"]
			focus, ok := analysisFocus[kind]
			if !ok {
				kind = "general"
				focus = analysisFocus[kind]
			}

			var b strings.Builder
			fmt.Fprintf(&b, "Please produce a %s analysis of the following system information:\n\n{system_data}\n\nCover:\n", kind)
			for i, f := range focus {
				fmt.Fprintf(&b, "%d. %s\n", i+1, f)
			}
			b.WriteString("\nGive concrete findings and recommendations.")

			text := b.String()
			for key, value := range args {
				if key == "analysis_type" {
					continue
				}
				text = strings.ReplaceAll(text, "{"+key+"}", value)
			}

			return mcp.GetPromptResult{
				Description: fmt.Sprintf("System %s analysis", kind),
				Messages: []mcp.PromptMessage{{
					Role:    "user",
					Content: mcp.ContentPart{Type: "text", Text: text},
				}},
			}, nil
		},
	}
}

func marshalIndent(v any) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}