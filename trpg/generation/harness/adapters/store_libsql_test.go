package adapters_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/db"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/adapters"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

func TestLibSQLAuditStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := db.ConnectToDB(ctx, filepath.Join(t.TempDir(), "audit.db"), zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	store := adapters.NewLibSQLAuditStore(conn)
	now := time.Date(2024, 5, 1, 15, 4, 5, 123456789, time.UTC)

	records := []ports.ToolExecution{
		{
			TurnID:        "turn-a",
			Seq:           1,
			Tool:          "calculator",
			Arguments:     map[string]any{"operation": "divide", "left_operand": 1, "right_operand": 0},
			Success:       false,
			Error:         "division by zero",
			ExecutionTime: 1500 * time.Microsecond,
			CreatedAt:     now,
		},
		{
			TurnID:        "turn-a",
			Seq:           0,
			Tool:          "get_current_time",
			Arguments:     map[string]any{},
			Success:       true,
			Result:        "2024-05-01 15:04:05",
			ExecutionTime: 2 * time.Millisecond,
			CreatedAt:     now,
		},
		{TurnID: "turn-b", Tool: "system_info", Arguments: map[string]any{}, Success: true, Result: "{}"},
	}
	require.NoError(t, store.RecordToolExecutions(ctx, records))

	got, err := store.LoadToolExecutions(ctx, "turn-a")
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, "get_current_time", got[0].Tool)
	assert.True(t, got[0].Success)
	assert.Equal(t, 2*time.Millisecond, got[0].ExecutionTime)

	assert.Equal(t, 1, got[1].Seq)
	assert.False(t, got[1].Success)
	assert.Equal(t, "division by zero", got[1].Error)
	assert.Equal(t, map[string]any{"operation": "divide", "left_operand": float64(1), "right_operand": float64(0)}, got[1].Arguments)
	assert.True(t, now.Equal(got[1].CreatedAt))

	none, err := store.LoadToolExecutions(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, none)

	assert.NoError(t, store.RecordToolExecutions(ctx, nil))
}
