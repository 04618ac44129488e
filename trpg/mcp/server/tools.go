package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

// ToolHandler executes a tool against its decoded-later JSON arguments.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs the advertised descriptor with its implementation.
type Tool struct {
	Info    mcp.ToolInfo
	Handler ToolHandler
}

// GenerateSchema derives a JSON schema for T. Fields without omitempty are required.
func GenerateSchema[T any]() json.RawMessage {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
		Anonymous:                 true,
	}
	var v T
	schema := reflector.Reflect(v)
	schema.Version = ""

	raw, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("generate schema for %T: %v", v, err))
	}
	return raw
}

// CurrentTimeInput is the get_current_time argument set.
type CurrentTimeInput struct {
	Format string `json:"format,omitempty" jsonschema:"enum=datetime,enum=timestamp,enum=iso,enum=custom" jsonschema_description:"Output format: datetime, timestamp, iso or custom. Defaults to datetime."`
}

// SystemInfoInput is empty; system_info takes no arguments.
type SystemInfoInput struct{}

// CalculatorInput is the calculator argument set.
type CalculatorInput struct {
	Operation    string  `json:"operation" jsonschema:"enum=add,enum=subtract,enum=multiply,enum=divide,enum=power,enum=modulo" jsonschema_description:"Operation to apply: add, subtract, multiply, divide, power or modulo."`
	LeftOperand  float64 `json:"left_operand" jsonschema_description:"Left operand."`
	RightOperand float64 `json:"right_operand" jsonschema_description:"Right operand."`
}

// DefaultTools returns the bundled sample tools.
func DefaultTools(info mcp.Implementation) []Tool {
	return []Tool{
		CurrentTimeTool(time.Now),
		SystemInfoTool(info),
		CalculatorTool(),
	}
}

// CurrentTimeTool reports the clock in one of several formats.
func CurrentTimeTool(now func() time.Time) Tool {
	return Tool{
		Info: mcp.ToolInfo{
			Name:        "get_current_time",
			Description: "Get the current system time.",
			InputSchema: GenerateSchema[CurrentTimeInput](),
		},
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in CurrentTimeInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			return formatTime(now(), in.Format), nil
		},
	}
}

func formatTime(t time.Time, format string) string {
	switch format {
	case "timestamp":
		return strconv.FormatInt(t.Unix(), 10)
	case "iso":
		return t.Format(time.RFC3339)
	case "custom":
		return t.Format("Monday, January 02, 2006 at 03:04 PM")
	default:
		return t.Format(time.DateTime)
	}
}

// SystemInfoTool reports host and runtime details.
func SystemInfoTool(info mcp.Implementation) Tool {
	return Tool{
		Info: mcp.ToolInfo{
			Name:        "system_info",
			Description: "Get information about the host running the tool server.",
			InputSchema: GenerateSchema[SystemInfoInput](),
		},
		Handler: func(_ context.Context, _ json.RawMessage) (string, error) {
			hostname, _ := os.Hostname()
			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)

			out, err := json.MarshalIndent(map[string]any{
				"os":             runtime.GOOS,
				"arch":           runtime.GOARCH,
				"go_version":     runtime.Version(),
				"cpus":           runtime.NumCPU(),
				"hostname":       hostname,
				"heap_alloc_mb":  fmt.Sprintf("%.2f", float64(mem.HeapAlloc)/(1<<20)),
				"server_name":    info.Name,
				"server_version": info.Version,
			}, "", "  ")
			if err != nil {
				return "", err
			}
			return string(out), nil
		},
	}
}

var calcOps = map[string]func(x, y float64) (float64, bool){
	"add":      func(x, y float64) (float64, bool) { return x + y, true },
	"subtract": func(x, y float64) (float64, bool) { return x - y, true },
	"multiply": func(x, y float64) (float64, bool) { return x * y, true },
	"divide": func(x, y float64) (float64, bool) {
		if y == 0 {
			return 0, false
		}
		return x / y, true
	},
	"power": func(x, y float64) (float64, bool) { return math.Pow(x, y), true },
	"modulo": func(x, y float64) (float64, bool) {
		if y == 0 {
			return 0, false
		}
		// result takes the sign of the divisor
		r := math.Mod(x, y)
		if r != 0 && (r < 0) != (y < 0) {
			r += y
		}
		return r, true
	},
}

var calcSymbols = map[string]string{
	"+": "add", "-": "subtract", "*": "multiply", "/": "divide", "**": "power", "%": "modulo",
}

// CalculatorTool applies a binary arithmetic operation.
func CalculatorTool() Tool {
	return Tool{
		Info: mcp.ToolInfo{
			Name:        "calculator",
			Description: "Simple calculator supporting basic arithmetic.",
			InputSchema: GenerateSchema[CalculatorInput](),
		},
		Handler: func(_ context.Context, args json.RawMessage) (string, error) {
			var in CalculatorInput
			if err := json.Unmarshal(args, &in); err != nil {
				return "", fmt.Errorf("invalid arguments: %w", err)
			}
			return calculate(in, time.Now())
		},
	}
}

func calculate(in CalculatorInput, at time.Time) (string, error) {
	op := strings.ToLower(strings.TrimSpace(in.Operation))
	if named, ok := calcSymbols[op]; ok {
		op = named
	}

	fn, ok := calcOps[op]
	if !ok {
		return "", fmt.Errorf("unsupported operation %q; supported: add, subtract, multiply, divide, power, modulo", in.Operation)
	}

	result, ok := fn(in.LeftOperand, in.RightOperand)
	if !ok {
		return "", fmt.Errorf("division by zero")
	}
	if math.IsInf(result, 0) || math.IsNaN(result) {
		return "", fmt.Errorf("result overflow")
	}

	out, err := json.MarshalIndent(map[string]any{
		"expression":  fmt.Sprintf("%g %s %g", in.LeftOperand, op, in.RightOperand),
		"result":      result,
		"operation":   op,
		"computed_at": at.Format(time.RFC3339),
	}, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
