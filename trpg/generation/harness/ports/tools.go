package harnessports

import "context"

// ParamSpec describes one tool argument.
type ParamSpec struct {
	Name        string
	Type        string // JSON type name: "string", "integer", "boolean", ...
	Description string
}

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string      // unique logical name
	Description string      // concise doc for model selection
	Params      []ParamSpec // sorted by name
	Required    []string    // argument names that must be present
	JSONSchema  []byte      // full input schema, used by strict validation
}

// Param returns the named parameter, if declared.
func (s ToolSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// ToolCall is a tool invocation extracted from model output.
type ToolCall struct {
	Name string
	Args map[string]any
}

// ToolOutput is what a single remote call produced.
type ToolOutput struct {
	Success bool
	Result  string
	Error   string
}

// ToolCatalog lists the tools a host offers.
type ToolCatalog interface {
	ListTools(ctx context.Context) ([]ToolSpec, error)
}

// ToolCaller executes one tool call. Remote tool failures are reported in
// ToolOutput; the error return is for faults the caller could not classify.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]any) (ToolOutput, error)
}

// ToolHost is both catalog and caller, as an MCP client is.
type ToolHost interface {
	ToolCatalog
	ToolCaller
}
