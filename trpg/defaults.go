// Package trpg holds process-wide defaults shared by the config loader and
// the command entry points.
package trpg

import (
	"os"
	"path/filepath"
)

const (
	DefaultAppName         = "ai-trpg"
	DefaultConfigDirName   = ".ai-trpg"
	DefaultEnvPrefix       = "TRPG"
	DefaultMCPBaseURL      = "http://127.0.0.1:8765"
	DefaultMCPEndpoint     = "/mcp"
	DefaultHealthEndpoint  = "/health"
	DefaultProtocolVersion = "2025-06-18"
	DefaultServerAddr      = "127.0.0.1:8765"
	DefaultClientName      = "ai-trpg mcp client"
	DefaultClientVersion   = "1.0.0"
	DefaultDeepSeekBaseURL = "https://api.deepseek.com/v1"
)

var (
	DefaultConfigPath = filepath.Join(homeDir(), DefaultConfigDirName)
	DefaultAuditDSN   = filepath.Join(DefaultConfigPath, "audit.db")
)

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
