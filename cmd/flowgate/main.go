// Command flowgate runs the approval gateway and its operator commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/flowgate/internal/config"
	"github.com/Strob0t/flowgate/internal/logger"
)

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "flowgate",
		Short:         "Tool gateway with human approval for invoice workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file (default: FLOWGATE_CONFIG or flowgate.yaml)")

	load := func() (*config.Config, func(), error) {
		var (
			cfg *config.Config
			err error
		)
		if configPath != "" {
			cfg, err = config.LoadFrom(configPath)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return nil, nil, fmt.Errorf("config: %w", err)
		}
		log, closer := logger.New(cfg.Logging)
		slog.SetDefault(log)
		return cfg, closer.Close, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newSweepCmd(load),
		newApprovalCmd(load),
		newEventsCmd(load),
		newVersionCmd(),
	)
	return root
}

// loadFunc loads the configuration and installs the default logger. The
// returned func flushes the logger.
type loadFunc func() (*config.Config, func(), error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}
