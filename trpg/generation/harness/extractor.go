package harness

import (
	"encoding/json"
	"strings"

	"github.com/rs/zerolog"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// ToolCallMarker is the key that introduces an embedded tool invocation:
//
//	{"tool_call": {"name": "...", "arguments": {...}}}
const ToolCallMarker = "tool_call"

const quotedMarker = `"` + ToolCallMarker + `"`

// ToolCallExtractor finds validated tool calls in free-form model output.
type ToolCallExtractor interface {
	Extract(text string, tools []ports.ToolSpec) []ports.ToolCall
}

// JSONToolCallExtractor scans text for marker objects by brace matching.
// It does not understand JSON strings, so a brace inside a string value can
// shift a candidate span; such candidates fail to parse and are skipped.
type JSONToolCallExtractor struct {
	logger zerolog.Logger
}

// NewJSONToolCallExtractor creates an extractor that logs skipped candidates.
func NewJSONToolCallExtractor(logger zerolog.Logger) *JSONToolCallExtractor {
	return &JSONToolCallExtractor{logger: logger.With().Str("component", "tool_call_extractor").Logger()}
}

// span is a half-open byte range [start, end) of a candidate object.
type span struct {
	start, end int
}

// markerSpans returns one candidate span per marker occurrence, in order.
// Occurrences with no opening brace before them or with unbalanced braces
// yield nothing.
func markerSpans(text string) []span {
	var spans []span
	from := 0
	for {
		idx := strings.Index(text[from:], quotedMarker)
		if idx < 0 {
			return spans
		}
		pos := from + idx
		from = pos + 1

		start := openingBrace(text, pos)
		if start < 0 {
			continue
		}
		if end := matchBrace(text, start); end > 0 {
			spans = append(spans, span{start: start, end: end})
		}
	}
}

// openingBrace returns the index of the nearest unmatched '{' before pos,
// skipping sibling objects that are already closed, or -1.
func openingBrace(text string, pos int) int {
	depth := 0
	for i := pos - 1; i >= 0; i-- {
		switch text[i] {
		case '}':
			depth++
		case '{':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}

// matchBrace returns the index just past the brace closing the one at start,
// or -1 when the text ends first.
func matchBrace(text string, start int) int {
	depth := 0
	for i := start; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return -1
}

// Extract implements ToolCallExtractor. Calls naming unknown tools or missing
// required arguments are dropped; duplicates keep their first position.
func (e *JSONToolCallExtractor) Extract(text string, tools []ports.ToolSpec) []ports.ToolCall {
	if len(tools) == 0 {
		return nil
	}
	known := make(map[string]ports.ToolSpec, len(tools))
	for _, t := range tools {
		known[t.Name] = t
	}

	var calls []ports.ToolCall
	seen := make(map[string]struct{})
	for _, sp := range markerSpans(text) {
		candidate := text[sp.start:sp.end]

		call, ok := e.decode(candidate)
		if !ok {
			continue
		}
		spec, ok := known[call.Name]
		if !ok {
			e.logger.Debug().Str("tool", call.Name).Msg("ignoring call to unknown tool")
			continue
		}

		key := dedupKey(call)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		if missing := missingRequired(spec, call.Args); missing != "" {
			e.logger.Warn().Str("tool", call.Name).Str("param", missing).Msg("tool call missing required argument")
			continue
		}
		calls = append(calls, call)
	}

	e.logger.Debug().Int("count", len(calls)).Msg("tool calls extracted")
	return calls
}

func (e *JSONToolCallExtractor) decode(candidate string) (ports.ToolCall, bool) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &obj); err != nil {
		e.logger.Warn().Err(err).Str("candidate", candidate).Msg("skipping malformed tool call")
		return ports.ToolCall{}, false
	}
	raw, ok := obj[ToolCallMarker]
	if !ok {
		return ports.ToolCall{}, false
	}

	var body struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Name == "" {
		e.logger.Warn().Str("candidate", candidate).Msg("tool call has no usable name")
		return ports.ToolCall{}, false
	}

	args := map[string]any{}
	if len(body.Arguments) > 0 && string(body.Arguments) != "null" {
		if err := json.Unmarshal(body.Arguments, &args); err != nil {
			e.logger.Warn().Err(err).Str("tool", body.Name).Msg("tool call arguments are not an object")
			return ports.ToolCall{}, false
		}
	}
	return ports.ToolCall{Name: body.Name, Args: args}, true
}

// dedupKey is the tool name plus the arguments serialized with sorted keys.
// encoding/json already sorts map keys at every depth.
func dedupKey(call ports.ToolCall) string {
	raw, err := json.Marshal(call.Args)
	if err != nil {
		return call.Name
	}
	return call.Name + "\x00" + string(raw)
}

func missingRequired(spec ports.ToolSpec, args map[string]any) string {
	for _, name := range spec.Required {
		if _, ok := args[name]; !ok {
			return name
		}
	}
	return ""
}
