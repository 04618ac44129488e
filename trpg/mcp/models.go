package mcp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ToolInfo describes one tool exposed by the host. Immutable once fetched.
type ToolInfo struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ToolSchema is the subset of an input schema the client reasons about.
type ToolSchema struct {
	Type       string                    `json:"type,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
	Required   []string                  `json:"required,omitempty"`
}

// PropertySchema describes one argument.
type PropertySchema struct {
	Type        json.RawMessage `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
}

// TypeName returns the declared JSON type, or the first one for union types.
func (p PropertySchema) TypeName() string {
	if len(p.Type) == 0 {
		return ""
	}
	var single string
	if err := json.Unmarshal(p.Type, &single); err == nil {
		return single
	}
	var many []string
	if err := json.Unmarshal(p.Type, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}

// Schema decodes the input schema. A tool with no schema yields the zero value.
func (t ToolInfo) Schema() (ToolSchema, error) {
	var s ToolSchema
	if len(t.InputSchema) == 0 || string(t.InputSchema) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(t.InputSchema, &s); err != nil {
		return ToolSchema{}, fmt.Errorf("decode input schema of %s: %w", t.Name, err)
	}
	return s, nil
}

// ParamNames returns the property names in sorted order.
func (s ToolSchema) ParamNames() []string {
	names := make([]string, 0, len(s.Properties))
	for name := range s.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsRequired reports whether name is listed in required.
func (s ToolSchema) IsRequired(name string) bool {
	for _, r := range s.Required {
		if r == name {
			return true
		}
	}
	return false
}

// ToolResult is the outcome of a single tools/call round trip.
type ToolResult struct {
	Success       bool
	Result        string
	Error         string
	ExecutionTime time.Duration
}

// FormatToolDescriptions renders the catalog as a bullet list with each
// parameter marked required or optional.
func FormatToolDescriptions(tools []ToolInfo) string {
	if len(tools) == 0 {
		return "No tools available"
	}

	lines := make([]string, 0, len(tools))
	for _, tool := range tools {
		line := fmt.Sprintf("- %s: %s", tool.Name, tool.Description)

		schema, err := tool.Schema()
		if err == nil && len(schema.Properties) > 0 {
			params := make([]string, 0, len(schema.Properties))
			for _, name := range schema.ParamNames() {
				desc := schema.Properties[name].Description
				if desc == "" {
					desc = "no description"
				}
				flag := "optional"
				if schema.IsRequired(name) {
					flag = "required"
				}
				params = append(params, fmt.Sprintf("%s: %s (%s)", name, desc, flag))
			}
			line += " Parameters: " + strings.Join(params, ", ")
		}

		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
