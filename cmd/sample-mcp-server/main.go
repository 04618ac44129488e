// Command sample-mcp-server serves the bundled demo tools over MCP
// streamable HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/logging"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp"
	"github.com/yanghanggit/ai-trpg-sub001/trpg/mcp/server"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to config file")
	addr := pflag.String("addr", "", "listen address, overrides server.addr")
	sse := pflag.Bool("sse", false, "answer requests as event streams")
	pflag.Parse()

	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *sse {
		cfg.Server.SSE = true
	}

	logger := logging.New(cfg.Log)

	srv := server.New(cfg.Server, logger, server.DefaultTools(mcp.Implementation{
		Name:    cfg.Server.Name,
		Version: cfg.Server.Version,
	})...)
	srv.RegisterDefaults()

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Bool("sse", cfg.Server.SSE).Msg("sample mcp server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Int("open_sessions", srv.SessionCount()).Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
