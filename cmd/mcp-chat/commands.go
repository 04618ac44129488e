package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

const helpText = `Commands:
  /tools                  list the tools the model may call
  /resources              list server resources
  /read <uri>             print a resource
  /prompts                list prompt templates
  /prompt <name> [k=v...] render a prompt template
  /audit                  show the tool executions of the last turn
  /help                   show this help
  /quit                   leave`

var errQuit = errors.New("quit")

// commands serves the slash commands of the chat loop.
type commands struct {
	client   *mcp.Client
	audit    ports.AuditStore // nil when auditing is disabled
	out      io.Writer
	lastTurn string
}

// run executes one slash command. It returns errQuit for /quit.
func (c *commands) run(ctx context.Context, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	name, args := fields[0], fields[1:]

	switch name {
	case "/quit", "/exit":
		return errQuit
	case "/help":
		fmt.Fprintln(c.out, helpText)
	case "/tools":
		tools, err := c.client.ListTools(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, mcp.FormatToolDescriptions(tools))
	case "/resources":
		resources, err := c.client.ListResources(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, mcp.FormatResources(resources))
	case "/read", "/read-resource":
		if len(args) != 1 {
			return errors.New("usage: /read <uri>")
		}
		contents, err := c.client.ReadResource(ctx, args[0])
		if err != nil {
			return err
		}
		for _, content := range contents {
			fmt.Fprintln(c.out, content.Text)
		}
	case "/prompts":
		prompts, err := c.client.ListPrompts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, mcp.FormatPrompts(prompts))
	case "/prompt":
		if len(args) == 0 {
			return errors.New("usage: /prompt <name> [key=value ...]")
		}
		promptArgs, err := mcp.ParsePromptArgs(args[1:])
		if err != nil {
			return err
		}
		result, err := c.client.GetPrompt(ctx, args[0], promptArgs)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.out, result.PromptText())
	case "/audit":
		return c.printAudit(ctx)
	default:
		return fmt.Errorf("unknown command %s, try /help", name)
	}
	return nil
}

func (c *commands) printAudit(ctx context.Context) error {
	if c.audit == nil {
		fmt.Fprintln(c.out, "auditing is disabled (audit.enabled)")
		return nil
	}
	if c.lastTurn == "" {
		fmt.Fprintln(c.out, "no turn yet")
		return nil
	}

	records, err := c.audit.LoadToolExecutions(ctx, c.lastTurn)
	if err != nil {
		return fmt.Errorf("load audit records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintf(c.out, "turn %s ran no tools\n", c.lastTurn)
		return nil
	}
	for _, r := range records {
		status, detail := "ok", r.Result
		if !r.Success {
			status, detail = "failed", r.Error
		}
		fmt.Fprintf(c.out, "%d. %s %s (%s): %s\n", r.Seq+1, r.Tool, status, r.ExecutionTime.Round(time.Millisecond), detail)
	}
	return nil
}