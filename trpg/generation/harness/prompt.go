package harness

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

const (
	// NoToolsNotice replaces the tool instruction when the catalog is empty.
	NoToolsNotice = "No tools are currently available; answer using your own knowledge only."

	defaultRolePreamble = "You are an intelligent assistant with the ability to use tools.\n\n"

	exampleValue = "example value"
)

const toolFormatSection = `When you need real-time information or need to perform a specific action, call the matching tool.

## Tool call format

Call tools using exactly this JSON format (several calls may appear in one reply):

` + "```json" + `
{
  "tool_call": {
    "name": "tool_name_1",
    "arguments": {
      "param": "value_1"
    }
  }
}

{
  "tool_call": {
    "name": "tool_name_2",
    "arguments": {
      "param": "value_2"
    }
  }
}
` + "```" + `

## Usage guide

- When the task explicitly asks you to use a tool, you must call it.

**Calling tools**:
1. Work out which tools the task needs.
2. Call them in the JSON format above, several at once if needed.

**Never**:
- Assume or invent a tool's result without calling it.`

const reinvokeInstruction = `---

## Constraints

- **Do not call any more tools.** Every tool call has already been executed.
- **Do not output tool call markup.** Never produce a {"tool_call": ...} JSON structure.

## Response requirements

1. **Content**: respond to the user's latest input using the tool results above, keeping your established role and voice.
2. **Format**: if the user explicitly asked for a specific output format (JSON, Markdown, a table, ...), follow it strictly.
3. **Style**: respond naturally for the context; do not explain the tool calling process.`

// PromptBuilder assembles the messages sent to the model in both inference
// phases.
type PromptBuilder struct {
	logger zerolog.Logger
}

func NewPromptBuilder(logger zerolog.Logger) *PromptBuilder {
	return &PromptBuilder{logger: logger.With().Str("component", "prompt_builder").Logger()}
}

// ToolInstruction describes the call format, lists the tools and shows a
// worked example built from the first tool.
func (b *PromptBuilder) ToolInstruction(tools []ports.ToolSpec) string {
	if len(tools) == 0 {
		return NoToolsNotice
	}

	var sb strings.Builder
	sb.WriteString(toolFormatSection)
	sb.WriteString("\n\n## Available tools")
	for _, tool := range tools {
		sb.WriteString("\n")
		sb.WriteString(describeTool(tool))
	}
	sb.WriteString("\n\n## Example\n\n")
	sb.WriteString(b.exampleCall(tools[0]))
	return sb.String()
}

func describeTool(tool ports.ToolSpec) string {
	line := fmt.Sprintf("- **%s**: %s", tool.Name, tool.Description)
	if len(tool.Required) == 0 {
		return line
	}
	quoted := make([]string, len(tool.Required))
	for i, name := range tool.Required {
		quoted[i] = "`" + name + "`"
	}
	return line + " (required params: " + strings.Join(quoted, ", ") + ")"
}

// exampleCall fills only the required parameters with placeholder values.
func (b *PromptBuilder) exampleCall(tool ports.ToolSpec) string {
	args := make(map[string]any, len(tool.Required))
	for _, name := range tool.Required {
		param, ok := tool.Param(name)
		if !ok {
			continue
		}
		switch param.Type {
		case "integer":
			args[name] = 1
		case "boolean":
			args[name] = true
		default:
			args[name] = exampleValue
		}
	}

	raw, err := json.Marshal(map[string]any{
		ToolCallMarker: map[string]any{"name": tool.Name, "arguments": args},
	})
	if err != nil {
		b.logger.Warn().Err(err).Str("tool", tool.Name).Msg("falling back to empty example arguments")
		raw = []byte(fmt.Sprintf(`{"%s":{"name":%q,"arguments":{}}}`, ToolCallMarker, tool.Name))
	}
	return fmt.Sprintf("Example call to %s:\n```json\n%s\n```", tool.Name, raw)
}

// Preprocess returns a copy of messages with the tool instruction injected
// as a system message right after a leading system message, or at the front
// behind a default role preamble. messages is not modified.
func (b *PromptBuilder) Preprocess(messages []ports.Message, tools []ports.ToolSpec) []ports.Message {
	instruction := b.ToolInstruction(tools)
	b.logger.Debug().Str("instruction", instruction).Msg("tool instruction built")

	if len(messages) > 0 && messages[0].Role == ports.RoleSystem {
		return slices.Insert(slices.Clone(messages), 1, ports.Message{Role: ports.RoleSystem, Content: instruction})
	}

	b.logger.Warn().Msg("conversation has no leading system message; prepending default role preamble")
	out := make([]ports.Message, 0, len(messages)+1)
	out = append(out, ports.Message{Role: ports.RoleSystem, Content: defaultRolePreamble + instruction})
	return append(out, messages...)
}

// ToolResultsMessage summarizes every execution result and appends the
// re-invocation instruction. It is sent in the assistant role, as the
// model's own observation of the tool output.
func (b *PromptBuilder) ToolResultsMessage(results []ToolExecutionResult) ports.Message {
	parts := make([]string, len(results))
	for i, r := range results {
		status := "success"
		if !r.Success {
			status = "failure"
		}
		parts[i] = fmt.Sprintf("Tool %d: %s (%s, elapsed %.2fs)\nResult: %s",
			i+1, r.Tool, status, r.ExecutionTime.Seconds(), r.Output())
	}

	content := "## Tool Execution Results\n\n" + strings.Join(parts, "\n\n") + "\n\n" + reinvokeInstruction
	return ports.Message{Role: ports.RoleAssistant, Content: content}
}
