package harnessports

import (
	"context"
	"time"
)

// ToolExecution is one audited tool call of a turn.
type ToolExecution struct {
	TurnID        string
	Seq           int // position within the turn
	Tool          string
	Arguments     map[string]any
	Success       bool
	Result        string
	Error         string
	ExecutionTime time.Duration
	CreatedAt     time.Time
}

// AuditStore persists tool executions. It never stores conversation history.
type AuditStore interface {
	RecordToolExecutions(ctx context.Context, records []ToolExecution) error
	LoadToolExecutions(ctx context.Context, turnID string) ([]ToolExecution, error)
}
