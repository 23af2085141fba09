// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/clipfeed/internal/config"
	"github.com/ManuGH/clipfeed/internal/version"
	"github.com/spf13/cobra"
)

var errNoConfigFile = errors.New("--config is required (no config.yaml found in $CLIPFEED_DATA)")

func newConfigCommand(configFlag *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}
	configCmd.AddCommand(newConfigInitCommand(configFlag))
	configCmd.AddCommand(newConfigValidateCommand(configFlag))
	configCmd.AddCommand(newConfigDumpCommand(configFlag))
	return configCmd
}

func newConfigInitCommand(configFlag *string) *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with defaults",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target := *configFlag
			if target == "" {
				target = "config.yaml"
			}
			target, err := filepath.Abs(target)
			if err != nil {
				return fmt.Errorf("resolve config path: %w", err)
			}
			if err := config.WriteFile(target, config.Default(), overwrite); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", target)
			return nil
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

func newConfigValidateCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := resolveConfigPath(*configFlag)
			if path == "" {
				return errNoConfigFile
			}
			if _, err := config.NewLoader(path, version.Version).Load(); err != nil {
				return fmt.Errorf("configuration error in %s:\n  %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", path)
			return nil
		},
	}
}

func newConfigDumpCommand(configFlag *string) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the effective configuration (defaults + file + env)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewLoader(resolveConfigPath(*configFlag), version.Version).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch format {
			case "yaml":
				data, err := config.Marshal(cfg)
				if err != nil {
					return err
				}
				_, err = out.Write(data)
				return err
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(cfg)
			default:
				return fmt.Errorf("unknown format %q (want yaml or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
