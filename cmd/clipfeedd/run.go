// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"github.com/ManuGH/clipfeed/internal/config"
	"github.com/ManuGH/clipfeed/internal/daemon"
	xglog "github.com/ManuGH/clipfeed/internal/log"
	"github.com/ManuGH/clipfeed/internal/version"
	"github.com/spf13/cobra"
)

const serviceName = "clipfeedd"

func newRunCommand(configFlag *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the feed engine in the foreground",
		RunE: func(cmd *cobra.Command, _ []string) error {
			xglog.Configure(xglog.Config{Level: "info", Service: serviceName, Version: version.Version})
			logger := xglog.WithComponent("main")

			path := resolveConfigPath(*configFlag)
			loader := config.NewLoader(path, version.Version)
			cfg, err := loader.Load()
			if err != nil {
				logger.Error().
					Err(err).
					Str(xglog.FieldEvent, "config.load_failed").
					Str(xglog.FieldPath, path).
					Msg("failed to load configuration")
				return err
			}
			xglog.Reconfigure(xglog.Config{Level: cfg.Log.Level, Service: serviceName, Version: cfg.Version})

			source := "env+defaults"
			if path != "" {
				source = "file"
			}
			logger.Info().
				Str(xglog.FieldEvent, "config.loaded").
				Str("source", source).
				Str(xglog.FieldPath, path).
				Int("surfaces", len(cfg.Surfaces)).
				Msg("loaded configuration")

			ctx := cmd.Context()
			app, err := daemon.New(ctx, cfg, daemon.Deps{Holder: config.NewHolder(cfg, loader)})
			if err != nil {
				return err
			}
			logger.Info().
				Str("commit", version.Commit).
				Str("built", version.Date).
				Str(xglog.FieldEvent, "daemon.starting").
				Msg("starting clipfeedd")
			return app.Run(ctx)
		},
	}
}
