// Command crunchd runs the crunch batch daemon. It owns the single active
// batch, serves JSON-RPC on a unix socket, and records finished batches.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"crunch/internal/config"
	"crunch/internal/daemonrun"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "crunchd:", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath string
	socketPath string
	logLevel   string
	dev        bool
}

func newRootCommand() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "crunchd",
		Short:         "Run the crunch batch daemon",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := f.load()
			if err != nil {
				return err
			}
			return daemonrun.Run(cmd.Context(), cfg, f.options(cfg))
		},
	}
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Configuration file path")
	cmd.Flags().StringVar(&f.socketPath, "socket", "", "Override the IPC socket path")
	cmd.Flags().StringVar(&f.logLevel, "log-level", "", "Override logging.level")
	cmd.Flags().BoolVar(&f.dev, "dev", false, "Human-readable console logging")
	return cmd
}

func (f flags) load() (*config.Config, error) {
	cfg, _, _, err := config.Load(strings.TrimSpace(f.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (f flags) options(cfg *config.Config) daemonrun.Options {
	level := strings.TrimSpace(f.logLevel)
	if level == "" {
		level = cfg.Logging.Level
	}
	return daemonrun.Options{
		LogLevel:    level,
		Development: f.dev,
		SocketPath:  strings.TrimSpace(f.socketPath),
	}
}
