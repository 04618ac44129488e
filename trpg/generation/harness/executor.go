package harness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"github.com/sourcegraph/conc/iter"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
)

var errToolFailed = errors.New("tool reported failure without a message")

// ToolExecutionResult is the outcome of one extracted call after retries.
type ToolExecutionResult struct {
	Tool          string
	Arguments     map[string]any
	Success       bool
	Result        string // set on success
	Error         string // set on failure
	ExecutionTime time.Duration
}

// Output is the result text on success and the error text otherwise.
func (r ToolExecutionResult) Output() string {
	if r.Success {
		return r.Result
	}
	return r.Error
}

// ExecutorConfig tunes retry pacing and fan-out width.
type ExecutorConfig struct {
	Backoff     time.Duration // wait before the first retry; doubles per retry
	MaxBackoff  time.Duration // cap on a single wait
	Concurrency int           // max calls in flight; 0 runs every call at once
}

// DefaultExecutorConfig waits 1s, 2s, 4s, 5s, 5s, ... between attempts.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{Backoff: time.Second, MaxBackoff: 5 * time.Second}
}

// ToolExecutor runs tool calls concurrently with per-attempt timeouts and
// bounded retry.
type ToolExecutor struct {
	caller ports.ToolCaller
	cfg    ExecutorConfig
	tracer ports.Tracer
	logger zerolog.Logger
}

// NewToolExecutor creates an executor. A nil tracer disables spans.
func NewToolExecutor(caller ports.ToolCaller, cfg ExecutorConfig, tracer ports.Tracer, logger zerolog.Logger) *ToolExecutor {
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultExecutorConfig().Backoff
	}
	if cfg.MaxBackoff < cfg.Backoff {
		cfg.MaxBackoff = cfg.Backoff
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	return &ToolExecutor{
		caller: caller,
		cfg:    cfg,
		tracer: tracer,
		logger: logger.With().Str("component", "tool_executor").Logger(),
	}
}

// ExecuteAll runs every call and returns one result per call, index-aligned
// with calls. Each attempt is bounded by timeout (none when timeout <= 0) and
// a failed or timed out attempt is retried up to maxRetries more times. A
// failing call never cancels its siblings and ExecuteAll never fails.
func (e *ToolExecutor) ExecuteAll(ctx context.Context, calls []ports.ToolCall, timeout time.Duration, maxRetries int) []ToolExecutionResult {
	if len(calls) == 0 {
		return []ToolExecutionResult{}
	}
	maxRetries = max(maxRetries, 0)

	workers := e.cfg.Concurrency
	if workers <= 0 || workers > len(calls) {
		workers = len(calls)
	}

	e.logger.Info().Int("calls", len(calls)).Int("workers", workers).Msg("executing tool calls")

	mapper := iter.Mapper[ports.ToolCall, ToolExecutionResult]{MaxGoroutines: workers}
	results := mapper.Map(calls, func(call *ports.ToolCall) ToolExecutionResult {
		return e.execute(ctx, *call, timeout, maxRetries)
	})

	var ok int
	var total time.Duration
	for _, r := range results {
		if r.Success {
			ok++
		}
		total += r.ExecutionTime
	}
	e.logger.Info().Int("succeeded", ok).Int("total", len(results)).Dur("elapsed", total).Msg("tool execution finished")

	return results
}

func (e *ToolExecutor) execute(ctx context.Context, call ports.ToolCall, timeout time.Duration, maxRetries int) ToolExecutionResult {
	ctx, finish := e.tracer.StartSpan(ctx, "tool_execute", map[string]any{"tool": call.Name})

	start := time.Now()
	attempts := 0
	var (
		output  ports.ToolOutput
		lastErr error
	)

	backoff := retry.WithMaxRetries(uint64(maxRetries),
		retry.WithCappedDuration(e.cfg.MaxBackoff, retry.NewExponential(e.cfg.Backoff)))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		out, err := e.attempt(ctx, call, timeout)
		if err == nil && !out.Success {
			err = errors.New(out.Error)
			if out.Error == "" {
				err = errToolFailed
			}
		}
		if err != nil {
			lastErr = err
			e.logger.Warn().Err(err).
				Str("tool", call.Name).
				Int("attempt", attempts).
				Int("max_attempts", maxRetries+1).
				Msg("tool attempt failed")
			return retry.RetryableError(err)
		}
		output = out
		return nil
	})

	result := ToolExecutionResult{
		Tool:          call.Name,
		Arguments:     call.Args,
		ExecutionTime: time.Since(start),
	}
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		result.Error = lastErr.Error()
		e.logger.Error().Str("tool", call.Name).Int("attempts", attempts).Str("error", result.Error).Msg("tool call exhausted retries")
		finish(lastErr)
		return result
	}

	result.Success = true
	result.Result = output.Result
	e.logger.Info().Str("tool", call.Name).Int("attempt", attempts).Dur("elapsed", result.ExecutionTime).Msg("tool call succeeded")
	finish(nil)
	return result
}

// attempt makes one call bounded by timeout. The call runs in its own
// goroutine so a caller that ignores ctx still cannot hold the attempt open.
func (e *ToolExecutor) attempt(ctx context.Context, call ports.ToolCall, timeout time.Duration) (ports.ToolOutput, error) {
	if err := ctx.Err(); err != nil {
		return ports.ToolOutput{}, err
	}
	if timeout <= 0 {
		return e.caller.CallTool(ctx, call.Name, call.Args)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		out ports.ToolOutput
		err error
	}
	done := make(chan reply, 1)
	go func() {
		out, err := e.caller.CallTool(attemptCtx, call.Name, call.Args)
		done <- reply{out: out, err: err}
	}()

	timedOut := func() (ports.ToolOutput, error) {
		if ctx.Err() != nil {
			return ports.ToolOutput{}, ctx.Err()
		}
		return ports.ToolOutput{}, fmt.Errorf("tool execution timed out: %s after %s", call.Name, timeout)
	}

	select {
	case r := <-done:
		// a caller that honours ctx reports the deadline itself
		if r.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return timedOut()
		}
		return r.out, r.err
	case <-attemptCtx.Done():
		return timedOut()
	}
}
