package harness

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// OutcomeKind tags which branch a turn took.
type OutcomeKind int

const (
	// NoToolsNeeded: the first response contained no usable tool call.
	NoToolsNeeded OutcomeKind = iota
	// ToolsExecuted: tools ran and the model was invoked a second time.
	ToolsExecuted
)

func (k OutcomeKind) String() string {
	switch k {
	case NoToolsNeeded:
		return "no_tools_needed"
	case ToolsExecuted:
		return "tools_executed"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is the full record of one turn.
type Outcome struct {
	Kind          OutcomeKind
	TurnID        string
	FirstResponse ports.Message
	Calls         []ports.ToolCall
	Results       []ToolExecutionResult
	// FinalResponse is the second model response. Only set for ToolsExecuted.
	FinalResponse ports.Message
	// History is the linear message log of the turn: the preprocessed
	// messages, the first response and, when tools ran, the tool results
	// message and the final response. Kept for audit and debugging.
	History []ports.Message
}

// Answer is the turn's terminal message.
func (o *Outcome) Answer() ports.Message {
	if o.Kind == ToolsExecuted {
		return o.FinalResponse
	}
	return o.FirstResponse
}

// Policy controls tool execution within a turn.
type Policy struct {
	ToolTimeout time.Duration // per attempt
	MaxRetries  int           // extra attempts after the first
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		ToolTimeout: 30 * time.Second,
		MaxRetries:  2,
	}
}

// Orchestrator runs the two-phase turn:
//
//	preprocess -> invoke -> extract -> [calls?] -> execute -> re-invoke
//
// with exactly one round of tool execution per turn.
type Orchestrator struct {
	model      ports.ChatModel
	catalog    ports.ToolCatalog
	executor   *ToolExecutor
	extractor  ToolCallExtractor
	builder    *PromptBuilder
	guardrails *Guardrails
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	audit      ports.AuditStore
	policy     *Policy
	logger     zerolog.Logger
}

// NewOrchestrator creates an orchestrator with dependencies.
func NewOrchestrator(
	model ports.ChatModel,
	catalog ports.ToolCatalog,
	executor *ToolExecutor,
	extractor ToolCallExtractor,
	builder *PromptBuilder,
	guardrails *Guardrails,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	audit ports.AuditStore,
	policy *Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Orchestrator{
		model:      model,
		catalog:    catalog,
		executor:   executor,
		extractor:  extractor,
		builder:    builder,
		guardrails: guardrails,
		limiter:    limiter,
		tracer:     tracer,
		audit:      audit,
		policy:     policy,
		logger:     logger.With().Str("component", "orchestrator").Logger(),
	}
}

// Run executes one turn over messages, which are never modified. Model
// failures are returned as errors; when the second invocation fails the
// partially filled Outcome is returned alongside the error so callers can
// still use the tool results.
func (o *Orchestrator) Run(ctx context.Context, messages []ports.Message) (*Outcome, error) {
	release, err := o.limiter.Acquire(ctx, "turn")
	if err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}
	defer release()

	turnID := uuid.NewString()
	ctx, finish := o.tracer.StartSpan(ctx, "orchestrate", map[string]any{
		"turn_id":  turnID,
		"messages": len(messages),
	})

	outcome, err := o.run(ctx, turnID, messages)
	finish(err)
	return outcome, err
}

func (o *Orchestrator) run(ctx context.Context, turnID string, messages []ports.Message) (*Outcome, error) {
	tools := o.availableTools(ctx)
	prepared := o.builder.Preprocess(messages, tools)
	o.tracer.Event(ctx, "preprocessed", map[string]any{"tools": len(tools), "messages": len(prepared)})

	first, err := o.invoke(ctx, "invoke_first", prepared)
	if err != nil {
		return nil, fmt.Errorf("first model invocation: %w", err)
	}

	outcome := &Outcome{
		Kind:          NoToolsNeeded,
		TurnID:        turnID,
		FirstResponse: first,
		History:       append(prepared, first),
	}

	calls := o.extract(ctx, first.Content, tools)
	if len(calls) == 0 {
		o.logger.Info().Str("turn_id", turnID).Msg("no tool calls; answering from first response")
		return outcome, nil
	}

	outcome.Kind = ToolsExecuted
	outcome.Calls = calls

	ctx, finishExec := o.tracer.StartSpan(ctx, "execute", map[string]any{"calls": len(calls)})
	outcome.Results = o.executor.ExecuteAll(ctx, calls, o.policy.ToolTimeout, o.policy.MaxRetries)
	finishExec(nil)
	o.recordAudit(ctx, turnID, outcome.Results)

	outcome.History = append(outcome.History, o.builder.ToolResultsMessage(outcome.Results))

	final, err := o.invoke(ctx, "invoke_second", slices.Clone(outcome.History))
	if err != nil {
		return outcome, fmt.Errorf("second model invocation: %w", err)
	}
	outcome.FinalResponse = final
	outcome.History = append(outcome.History, final)

	o.logger.Info().
		Str("turn_id", turnID).
		Int("calls", len(calls)).
		Msg("turn answered from tool results")
	return outcome, nil
}

func (o *Orchestrator) availableTools(ctx context.Context) []ports.ToolSpec {
	tools, err := o.catalog.ListTools(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("tool catalog unavailable; continuing without tools")
		return nil
	}
	return o.guardrails.FilterTools(tools)
}

func (o *Orchestrator) invoke(ctx context.Context, stage string, messages []ports.Message) (ports.Message, error) {
	ctx, finish := o.tracer.StartSpan(ctx, stage, map[string]any{"messages": len(messages)})
	resp, err := o.model.Invoke(ctx, messages)
	finish(err)
	if err != nil {
		return ports.Message{}, err
	}
	// the content is never altered; only a missing role is filled in
	if resp.Role == "" {
		resp.Role = ports.RoleAssistant
	}
	return resp, nil
}

func (o *Orchestrator) extract(ctx context.Context, text string, tools []ports.ToolSpec) []ports.ToolCall {
	if len(tools) == 0 {
		return nil
	}
	calls := o.guardrails.ValidateCalls(o.extractor.Extract(text, tools), tools)
	o.tracer.Event(ctx, "extracted", map[string]any{"calls": len(calls)})
	for _, c := range calls {
		o.logger.Debug().Str("tool", c.Name).Interface("args", c.Args).Msg("parsed tool call")
	}
	return calls
}

func (o *Orchestrator) recordAudit(ctx context.Context, turnID string, results []ToolExecutionResult) {
	now := time.Now()
	records := make([]ports.ToolExecution, len(results))
	for i, r := range results {
		records[i] = ports.ToolExecution{
			TurnID:        turnID,
			Seq:           i,
			Tool:          r.Tool,
			Arguments:     r.Arguments,
			Success:       r.Success,
			Result:        r.Result,
			Error:         r.Error,
			ExecutionTime: r.ExecutionTime,
			CreatedAt:     now,
		}
	}
	if err := o.audit.RecordToolExecutions(ctx, records); err != nil {
		o.tracer.Event(ctx, "audit_error", map[string]any{"error": err.Error()})
		o.logger.Warn().Err(err).Str("turn_id", turnID).Msg("tool audit not recorded")
	}
}
