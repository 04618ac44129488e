package harness

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/adapters"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

const maxRetriesCeiling = 10

// Factory creates and wires harness components from configuration.
type Factory struct {
	harnessConfig *config.HarnessConfig
	db            *sql.DB // Optional, enables the tool audit store
	logger        zerolog.Logger
}

// NewFactory creates a new harness factory.
func NewFactory(harnessConfig *config.HarnessConfig, db *sql.DB, logger zerolog.Logger) *Factory {
	return &Factory{
		harnessConfig: harnessConfig,
		db:            db,
		logger:        logger,
	}
}

// CreateOrchestrator wires an Orchestrator around a model and a tool host.
func (f *Factory) CreateOrchestrator(model ports.ChatModel, tools ports.ToolHost) (*Orchestrator, error) {
	if model == nil {
		return nil, errors.New("harness: chat model is required")
	}
	if tools == nil {
		return nil, errors.New("harness: tool host is required")
	}

	tracer := f.createTracer()
	return NewOrchestrator(
		model,
		tools,
		f.CreateExecutor(tools, tracer),
		NewJSONToolCallExtractor(f.logger),
		NewPromptBuilder(f.logger),
		f.CreateGuardrails(),
		f.createRateLimiter(),
		tracer,
		f.createAuditStore(),
		f.CreatePolicy(),
		f.logger,
	), nil
}

// CreateExecutor creates a ToolExecutor with the configured retry pacing.
func (f *Factory) CreateExecutor(caller ports.ToolCaller, tracer ports.Tracer) *ToolExecutor {
	cfg := ExecutorConfig{
		Backoff:     f.harnessConfig.RetryBackoff,
		MaxBackoff:  f.harnessConfig.RetryMaxBackoff,
		Concurrency: f.harnessConfig.ToolConcurrency,
	}
	if cfg.Concurrency < 0 {
		f.logger.Warn().Int("tool_concurrency", cfg.Concurrency).Msg("ToolConcurrency clamped to 0 (unbounded)")
		cfg.Concurrency = 0
	}
	return NewToolExecutor(caller, cfg, tracer, f.logger)
}

// CreateGuardrails creates guardrails from config.
func (f *Factory) CreateGuardrails() *Guardrails {
	return NewGuardrails(f.harnessConfig.AllowedTools, f.harnessConfig.StrictSchema, f.logger)
}

// CreatePolicy creates a policy from config with validation.
func (f *Factory) CreatePolicy() *Policy {
	policy := &Policy{
		ToolTimeout: f.harnessConfig.ToolTimeout,
		MaxRetries:  f.harnessConfig.MaxRetries,
	}

	if policy.ToolTimeout <= 0 {
		policy.ToolTimeout = 30 * time.Second
		f.logger.Warn().Dur("tool_timeout", f.harnessConfig.ToolTimeout).Msg("ToolTimeout must be positive, using 30s")
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
		f.logger.Warn().Int("max_retries", f.harnessConfig.MaxRetries).Msg("MaxRetries clamped to minimum of 0")
	}
	if policy.MaxRetries > maxRetriesCeiling {
		policy.MaxRetries = maxRetriesCeiling
		f.logger.Warn().Int("max_retries", f.harnessConfig.MaxRetries).Msg("MaxRetries clamped to maximum of 10")
	}

	return policy
}

func (f *Factory) createRateLimiter() ports.RateLimiter {
	if !f.harnessConfig.RateLimitEnabled {
		return &noOpRateLimiter{}
	}
	return adapters.NewRateLimiter(f.harnessConfig.RateLimitPerSecond, f.harnessConfig.RateLimitBurst)
}

func (f *Factory) createTracer() ports.Tracer {
	if !f.harnessConfig.EnableTracing {
		return &noOpTracer{}
	}
	return adapters.NewZerologTracer(f.logger)
}

func (f *Factory) createAuditStore() ports.AuditStore {
	if f.db == nil {
		return &noOpAuditStore{}
	}
	return adapters.NewLibSQLAuditStore(f.db)
}

// noOpRateLimiter implements RateLimiter interface with no-op behavior.
type noOpRateLimiter struct{}

func (r *noOpRateLimiter) Acquire(ctx context.Context, key string) (release func(), err error) {
	return func() {}, nil
}

// noOpTracer implements Tracer interface with no-op behavior.
type noOpTracer struct{}

func (t *noOpTracer) StartSpan(ctx context.Context, name string, attrs map[string]any) (context.Context, func(err error)) {
	return ctx, func(err error) {}
}

func (t *noOpTracer) Event(ctx context.Context, name string, attrs map[string]any) {}

// noOpAuditStore discards every record.
type noOpAuditStore struct{}

func (s *noOpAuditStore) RecordToolExecutions(ctx context.Context, records []ports.ToolExecution) error {
	return nil
}

func (s *noOpAuditStore) LoadToolExecutions(ctx context.Context, turnID string) ([]ports.ToolExecution, error) {
	return nil, nil
}

// Ensure all no-op types implement their interfaces.
var (
	_ ports.RateLimiter = (*noOpRateLimiter)(nil)
	_ ports.Tracer      = (*noOpTracer)(nil)
	_ ports.AuditStore  = (*noOpAuditStore)(nil)
)
