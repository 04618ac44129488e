package harness

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// ErrToolNotFound is returned when a call names a tool outside the catalog.
var ErrToolNotFound = errors.New("harness: tool not found")

// Guardrails limits which tools the model sees and, in strict mode, checks
// call arguments against the full input schema.
type Guardrails struct {
	allowlist     map[string]bool // empty allows every tool
	strict        bool
	jsonValidator *JSONValidator
	logger        zerolog.Logger
}

// NewGuardrails creates guardrails. An empty allowed list allows every tool.
func NewGuardrails(allowed []string, strict bool, logger zerolog.Logger) *Guardrails {
	g := &Guardrails{
		allowlist:     make(map[string]bool, len(allowed)),
		strict:        strict,
		jsonValidator: NewJSONValidator(),
		logger:        logger.With().Str("component", "guardrails").Logger(),
	}
	for _, name := range allowed {
		if name = strings.TrimSpace(name); name != "" {
			g.allowlist[name] = true
		}
	}
	return g
}

func (g *Guardrails) allowed(name string) bool {
	return len(g.allowlist) == 0 || g.allowlist[name]
}

// FilterTools returns the catalog entries the allowlist admits, in order.
func (g *Guardrails) FilterTools(tools []ports.ToolSpec) []ports.ToolSpec {
	if len(g.allowlist) == 0 {
		return tools
	}
	out := make([]ports.ToolSpec, 0, len(tools))
	for _, t := range tools {
		if g.allowed(t.Name) {
			out = append(out, t)
			continue
		}
		g.logger.Debug().Str("tool", t.Name).Msg("tool hidden by allowlist")
	}
	return out
}

// ValidateCall checks a call against the tool's input schema.
func (g *Guardrails) ValidateCall(call ports.ToolCall, tools []ports.ToolSpec) error {
	for _, t := range tools {
		if t.Name != call.Name {
			continue
		}
		args, err := json.Marshal(call.Args)
		if err != nil {
			return fmt.Errorf("encode arguments of %s: %w", call.Name, err)
		}
		return g.jsonValidator.Validate(args, t.JSONSchema)
	}
	return fmt.Errorf("%w: %s", ErrToolNotFound, call.Name)
}

// ValidateCalls drops calls that fail schema validation. Without strict mode
// every call passes through.
func (g *Guardrails) ValidateCalls(calls []ports.ToolCall, tools []ports.ToolSpec) []ports.ToolCall {
	if !g.strict {
		return calls
	}
	out := make([]ports.ToolCall, 0, len(calls))
	for _, call := range calls {
		if err := g.ValidateCall(call, tools); err != nil {
			g.logger.Warn().Err(err).Str("tool", call.Name).Msg("dropping tool call that fails schema validation")
			continue
		}
		out = append(out, call)
	}
	return out
}

// JSONValidator handles JSON schema validation.
type JSONValidator struct{}

// NewJSONValidator creates a new JSON validator.
func NewJSONValidator() *JSONValidator {
	return &JSONValidator{}
}

// Validate checks data against schema. An empty schema accepts anything.
func (v *JSONValidator) Validate(data json.RawMessage, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("data is not valid JSON")
	}

	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}
