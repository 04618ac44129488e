package adapters

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

// MCPToolHost exposes an MCP client through the harness tool ports.
type MCPToolHost struct {
	client *mcp.Client
	logger zerolog.Logger
}

// NewMCPToolHost wraps a connected client.
func NewMCPToolHost(client *mcp.Client, logger zerolog.Logger) *MCPToolHost {
	return &MCPToolHost{client: client, logger: logger.With().Str("component", "mcp_tool_host").Logger()}
}

// ListTools converts the client's cached catalog into tool specs. A tool
// whose schema cannot be decoded is still offered, without parameters.
func (h *MCPToolHost) ListTools(ctx context.Context) ([]ports.ToolSpec, error) {
	infos, err := h.client.ListTools(ctx)
	if err != nil {
		return nil, err
	}

	specs := make([]ports.ToolSpec, 0, len(infos))
	for _, info := range infos {
		spec := ports.ToolSpec{
			Name:        info.Name,
			Description: info.Description,
			JSONSchema:  info.InputSchema,
		}

		schema, err := info.Schema()
		if err != nil {
			h.logger.Warn().Err(err).Str("tool", info.Name).Msg("tool schema not decodable")
		} else {
			spec.Required = schema.Required
			for _, name := range schema.ParamNames() {
				prop := schema.Properties[name]
				spec.Params = append(spec.Params, ports.ParamSpec{
					Name:        name,
					Type:        prop.TypeName(),
					Description: prop.Description,
				})
			}
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// CallTool forwards to the client. Remote failures arrive in ToolOutput.
func (h *MCPToolHost) CallTool(ctx context.Context, name string, args map[string]any) (ports.ToolOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.ToolOutput{}, fmt.Errorf("call %s: %w", name, err)
	}
	res := h.client.CallTool(ctx, name, args)
	return ports.ToolOutput{Success: res.Success, Result: res.Result, Error: res.Error}, nil
}

// Ensure MCPToolHost implements the ToolHost interface.
var _ ports.ToolHost = (*MCPToolHost)(nil)
