package mcp

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yanghanggit/ai-trpg-sub001/trpg/config"
)

// Dial creates a client, connects it and verifies the host answers a ping.
// A client that fails the health check is disconnected before returning.
func Dial(ctx context.Context, cfg config.MCPConfig, logger zerolog.Logger) (*Client, error) {
	client := NewClient(cfg, logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	healthy, err := client.CheckHealth(ctx)
	if err != nil || !healthy {
		client.Disconnect()
		cause := ErrUnhealthy
		if err != nil {
			cause = fmt.Errorf("%w: %v", ErrUnhealthy, err)
		}
		return nil, &ConnectionError{URL: client.url(client.cfg.HealthEndpoint), Err: cause}
	}

	client.logger.Info().Str("url", client.cfg.BaseURL).Msg("mcp client ready")
	return client, nil
}
