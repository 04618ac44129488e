package adapters

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologTracer_Spans(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.DebugLevel))

	ctx, finishTurn := tracer.StartSpan(context.Background(), "orchestrate", map[string]any{"turn_id": "t-1"})
	inner, finishInvoke := tracer.StartSpan(ctx, "invoke_first", nil)
	tracer.Event(inner, "extracted", map[string]any{"calls": 2})
	finishInvoke(nil)
	finishTurn(errors.New("model down"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 5)

	assert.Contains(t, lines[0], `"span":"orchestrate"`)
	assert.Contains(t, lines[0], `"event":"span_start"`)

	// nested span carries the parent's attributes
	assert.Contains(t, lines[1], `"span":"invoke_first"`)
	assert.Contains(t, lines[1], `"turn_id":"t-1"`)

	assert.Contains(t, lines[2], `"event":"extracted"`)
	assert.Contains(t, lines[2], `"calls":2`)
	assert.Contains(t, lines[2], `"level":"info"`)

	assert.Contains(t, lines[3], `"event":"span_end"`)
	assert.Contains(t, lines[3], `"level":"debug"`)

	assert.Contains(t, lines[4], `"level":"warn"`)
	assert.Contains(t, lines[4], `"error":"model down"`)
}

func TestZerologTracer_EventWithoutSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf))

	tracer.Event(context.Background(), "audit_error", map[string]any{"error": "disk full"})

	assert.Contains(t, buf.String(), `"component":"tracer"`)
	assert.Contains(t, buf.String(), `"event":"audit_error"`)
	assert.NotContains(t, buf.String(), `"span"`)
	assert.Contains(t, buf.String(), `"level":"info"`)
}

func TestZerologTracer_EventUsesInnermostSpan(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewZerologTracer(zerolog.New(&buf).Level(zerolog.InfoLevel))

	ctx, _ := tracer.StartSpan(context.Background(), "orchestrate", map[string]any{"turn_id": "t-9"})
	ctx, _ = tracer.StartSpan(ctx, "execute_tools", nil)
	tracer.Event(ctx, "tool_result", map[string]any{"tool": "calculator"})

	// span start and end lines are debug, so only the event is written
	out := strings.TrimSpace(buf.String())
	require.NotContains(t, out, "\n")
	assert.Contains(t, out, `"span":"execute_tools"`)
	assert.Contains(t, out, `"turn_id":"t-9"`)
	assert.Contains(t, out, `"tool":"calculator"`)
}
