package cmd

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/voxline-ai/voxline/internal/config"
)

// socketPath locates the agent's IPC socket: the config file wins, then the
// well-known default.
func socketPath(cmd *cobra.Command) string {
	configPath := resolveConfigPath(cmd, nil, defaultConfigFile)
	if cfg, err := config.Load(configPath); err == nil && cfg.Agent.SocketPath != "" {
		return cfg.Agent.SocketPath
	}
	return filepath.Join(os.TempDir(), "voxline-agent.sock")
}
