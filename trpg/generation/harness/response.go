package harness

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emptyJSONFence = regexp.MustCompile("```json\\s*```")
	emptyFence     = regexp.MustCompile("```\\s*```")
	blankRuns      = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

// fenceWindow is how far around a tool call a markdown fence may sit and
// still be removed with it.
const fenceWindow = 10

// StripToolCalls removes embedded tool-call objects from model text, together
// with a ```json fence wrapped tightly around them, and collapses the blank
// lines left behind.
func StripToolCalls(text string) string {
	spans := outermost(markerSpans(text))

	for i := len(spans) - 1; i >= 0; i-- {
		start, end := spans[i].start, spans[i].end

		lo := max(0, start-fenceWindow)
		if idx := strings.LastIndex(text[lo:start], "```json"); idx >= 0 {
			start = lo + idx
		}
		hi := min(len(text), end+fenceWindow)
		if idx := strings.Index(text[end:hi], "```"); idx >= 0 {
			end = end + idx + 3
		}

		text = text[:start] + text[end:]
	}

	text = emptyJSONFence.ReplaceAllString(text, "")
	text = emptyFence.ReplaceAllString(text, "")
	return blankRuns.ReplaceAllString(text, "\n\n")
}

// outermost drops spans nested inside an earlier one.
func outermost(spans []span) []span {
	var out []span
	for _, sp := range spans {
		if n := len(out); n > 0 && sp.start >= out[n-1].start && sp.end <= out[n-1].end {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// SummarizeResults renders results as a human-readable section, one block
// per tool.
func SummarizeResults(results []ToolExecutionResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		status := "succeeded"
		if !r.Success {
			status = "failed"
		}
		timing := ""
		if secs := r.ExecutionTime.Seconds(); secs > 0 {
			timing = fmt.Sprintf(" (%.1fs)", secs)
		}
		blocks = append(blocks, fmt.Sprintf("**%s** %s%s\n%s", r.Tool, status, timing, r.Output()))
	}
	return strings.Join(blocks, "\n\n")
}

// SynthesizeResponse builds an answer without a second model call: the first
// response stripped of tool-call markup followed by the tool results. It is
// the fallback when re-invoking the model fails.
func SynthesizeResponse(firstResponse string, results []ToolExecutionResult) string {
	cleaned := strings.TrimSpace(StripToolCalls(firstResponse))
	if len(results) == 0 {
		return cleaned
	}
	if cleaned != "" {
		return cleaned + "\n\n" + SummarizeResults(results)
	}
	return standaloneResponse(results)
}

func standaloneResponse(results []ToolExecutionResult) string {
	if len(results) == 1 {
		r := results[0]
		if r.Success {
			return fmt.Sprintf("Ran %s, result:\n\n%s", r.Tool, r.Output())
		}
		return fmt.Sprintf("Sorry, %s failed:\n\n%s", r.Tool, r.Output())
	}

	ok := 0
	for _, r := range results {
		if r.Success {
			ok++
		}
	}
	return fmt.Sprintf("Ran %d tools, %d succeeded:\n\n%s", len(results), ok, SummarizeResults(results))
}
