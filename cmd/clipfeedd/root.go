// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ManuGH/clipfeed/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var configFlag string

	rootCmd := &cobra.Command{
		Use:           "clipfeedd",
		Short:         "Short-video feed engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "path to config file (YAML)")

	rootCmd.AddCommand(newRunCommand(&configFlag))
	rootCmd.AddCommand(newConfigCommand(&configFlag))
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

// resolveConfigPath prefers the flag and falls back to
// ${CLIPFEED_DATA}/config.yaml when that file exists.
func resolveConfigPath(flagValue string) string {
	if p := strings.TrimSpace(flagValue); p != "" {
		return p
	}
	dataDir := strings.TrimSpace(config.ParseString(config.EnvDataDir, ""))
	if dataDir == "" {
		return ""
	}
	autoPath := filepath.Join(dataDir, "config.yaml")
	if _, err := os.Stat(autoPath); err == nil {
		return autoPath
	}
	return ""
}
