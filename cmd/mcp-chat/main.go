// Command mcp-chat is a line-oriented chat loop whose model can call the
// tools of an MCP server.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/db"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/adapters"
	ports "github.com/yanghanggit/ai-trpg-sub001/trpg/generation/harness/ports"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/generation/models"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/logging"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
)

const systemPrompt = "You are the game master of a tabletop role-playing game. Keep answers short and in character."

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	pflag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("mcp-chat failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	client, err := mcp.Dial(ctx, cfg.MCP, logger)
	if err != nil {
		return fmt.Errorf("connect to mcp server: %w", err)
	}
	defer client.Disconnect()

	cmds := &commands{client: client, out: os.Stdout}

	var auditDB *sql.DB
	if cfg.Audit.Enabled {
		auditDB, err = db.ConnectToDB(ctx, cfg.Audit.DSN, logger)
		if err != nil {
			return fmt.Errorf("open audit store: %w", err)
		}
		defer auditDB.Close()
		cmds.audit = adapters.NewLibSQLAuditStore(auditDB)
	}

	model, err := models.New(cfg.LLM, logger)
	if err != nil {
		return err
	}

	orchestrator, err := harness.NewFactory(&cfg.Harness, auditDB, logger).
		CreateOrchestrator(model, adapters.NewMCPToolHost(client, logger))
	if err != nil {
		return err
	}

	history := []ports.Message{{Role: ports.RoleSystem, Content: systemPrompt}}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	fmt.Println("Connected. Type a message, /help for commands or /quit to leave.")
	for {
		fmt.Print("> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if err := cmds.run(ctx, line); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			continue
		}

		history = append(history, ports.Message{Role: ports.RoleUser, Content: line})
		answer, turnID, err := turn(ctx, orchestrator, history, logger)
		if turnID != "" {
			cmds.lastTurn = turnID
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		fmt.Println(answer)
		history = append(history, ports.Message{Role: ports.RoleAssistant, Content: answer})
	}
}

// turn runs one orchestrated turn. When the second model call fails after
// tools ran, the answer is synthesized from the tool results instead.
func turn(ctx context.Context, o *harness.Orchestrator, history []ports.Message, logger zerolog.Logger) (answer, turnID string, err error) {
	outcome, err := o.Run(ctx, history)
	if err != nil {
		if outcome == nil || len(outcome.Results) == 0 {
			return "", "", err
		}
		logger.Warn().Err(err).Str("turn_id", outcome.TurnID).Msg("answering from tool results")
		return harness.SynthesizeResponse(outcome.FirstResponse.Content, outcome.Results), outcome.TurnID, nil
	}

	logger.Debug().Str("turn_id", outcome.TurnID).Stringer("outcome", outcome.Kind).Int("tools", len(outcome.Results)).Msg("turn complete")
	if outcome.Kind == harness.NoToolsNeeded {
		return harness.StripToolCalls(outcome.Answer().Content), outcome.TurnID, nil
	}
	return outcome.Answer().Content, outcome.TurnID, nil
}
