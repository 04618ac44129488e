package harness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStripToolCalls(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "inline",
			in:   `Let me check. {"tool_call":{"name":"get_time","arguments":{}}} Thanks.`,
			want: "Let me check.  Thanks.",
		},
		{
			name: "fenced",
			in:   "Let me check.\n```json\n{\"tool_call\":{\"name\":\"get_time\",\"arguments\":{}}}\n```\nThanks.",
			want: "Let me check.\n\nThanks.",
		},
		{
			name: "several with blank runs",
			in:   "A\n\n{\"tool_call\":{\"name\":\"a\"}}\n\n\n{\"tool_call\":{\"name\":\"b\"}}\n\nB",
			want: "A\n\nB",
		},
		{
			name: "nested marker removed once",
			in:   `x {"tool_call":{"name":"echo","arguments":{"p":{"tool_call":{}}}}} y`,
			want: "x  y",
		},
		{
			name: "closed sibling inside the same object",
			in:   `ok {"thought": {}, "tool_call":{"name":"get_time"}} done`,
			want: "ok  done",
		},
		{
			name: "no markers",
			in:   "plain {json: true} text",
			want: "plain {json: true} text",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripToolCalls(tt.in))
		})
	}
}

func TestSynthesizeResponse(t *testing.T) {
	ok := ToolExecutionResult{Tool: "get_time", Success: true, Result: "12:00", ExecutionTime: 1500 * time.Millisecond}
	bad := ToolExecutionResult{Tool: "calc", Success: false, Error: "boom"}
	first := `Let me check. {"tool_call":{"name":"get_time","arguments":{}}}`

	assert.Equal(t, "Let me check.", SynthesizeResponse(first, nil))

	assert.Equal(t,
		"Let me check.\n\n**get_time** succeeded (1.5s)\n12:00",
		SynthesizeResponse(first, []ToolExecutionResult{ok}))

	bare := `{"tool_call":{"name":"get_time","arguments":{}}}`
	assert.Equal(t, "Ran get_time, result:\n\n12:00", SynthesizeResponse(bare, []ToolExecutionResult{ok}))
	assert.Equal(t, "Sorry, calc failed:\n\nboom", SynthesizeResponse(bare, []ToolExecutionResult{bad}))
	assert.Equal(t,
		"Ran 2 tools, 1 succeeded:\n\n**get_time** succeeded (1.5s)\n12:00\n\n**calc** failed\nboom",
		SynthesizeResponse(bare, []ToolExecutionResult{ok, bad}))
}
