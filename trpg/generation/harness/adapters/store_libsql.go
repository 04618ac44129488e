package adapters

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

// LibSQLAuditStore implements AuditStore on the tool_executions table.
// The schema is created by the db package migrations.
type LibSQLAuditStore struct {
	db *sql.DB
}

// NewLibSQLAuditStore creates a new LibSQL audit store.
func NewLibSQLAuditStore(db *sql.DB) *LibSQLAuditStore {
	return &LibSQLAuditStore{
		db: db,
	}
}

// RecordToolExecutions inserts all records in one transaction.
func (s *LibSQLAuditStore) RecordToolExecutions(ctx context.Context, records []ports.ToolExecution) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin audit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO tool_executions
			(turn_id, seq, tool, arguments, success, result, error, execution_time_us, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, r := range records {
		args, err := json.Marshal(r.Arguments)
		if err != nil {
			return fmt.Errorf("failed to marshal arguments of %s: %w", r.Tool, err)
		}
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		success := 0
		if r.Success {
			success = 1
		}

		if _, err := tx.ExecContext(ctx, query,
			r.TurnID, r.Seq, r.Tool, string(args), success, r.Result, r.Error,
			r.ExecutionTime.Microseconds(), createdAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to record tool execution %s: %w", r.Tool, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit audit records: %w", err)
	}
	return nil
}

// LoadToolExecutions returns the records of a turn in call order.
func (s *LibSQLAuditStore) LoadToolExecutions(ctx context.Context, turnID string) ([]ports.ToolExecution, error) {
	query := `
		SELECT seq, tool, arguments, success, result, error, execution_time_us, created_at
		FROM tool_executions
		WHERE turn_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, turnID)
	if err != nil {
		return nil, fmt.Errorf("failed to query tool executions: %w", err)
	}
	defer rows.Close()

	var records []ports.ToolExecution
	for rows.Next() {
		var (
			rec       ports.ToolExecution
			args      string
			success   int64
			elapsedUS int64
			createdNS int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Tool, &args, &success, &rec.Result, &rec.Error, &elapsedUS, &createdNS); err != nil {
			return nil, fmt.Errorf("failed to scan tool execution: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &rec.Arguments); err != nil {
			return nil, fmt.Errorf("failed to unmarshal arguments: %w", err)
		}
		rec.TurnID = turnID
		rec.Success = success != 0
		rec.ExecutionTime = time.Duration(elapsedUS) * time.Microsecond
		rec.CreatedAt = time.Unix(0, createdNS).UTC()
		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tool executions: %w", err)
	}
	return records, nil
}

// Ensure LibSQLAuditStore implements the AuditStore interface.
var _ ports.AuditStore = (*LibSQLAuditStore)(nil)
