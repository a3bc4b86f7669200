// Package main implements the arkilian-compact binary.
//
// It runs merge-on-read compaction jobs, explains their plans and serves the
// planner over gRPC.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arkilian/compactor/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "arkilian-compact",
		Short:         "Merge-on-read compaction planner and runner",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML or JSON config file")

	loadConfig := func() (*config.Config, error) {
		cfg := config.DefaultConfig()
		if configPath != "" {
			loaded, err := config.LoadFromFile(configPath)
			if err != nil {
				return nil, err
			}
			cfg = loaded
		}
		config.LoadFromEnv(cfg)
		return cfg, nil
	}

	rootCmd.AddCommand(
		newRunCmd(loadConfig),
		newExplainCmd(),
		newServeCmd(loadConfig),
		newRunsCmd(loadConfig),
	)
	return rootCmd
}
