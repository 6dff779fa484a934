package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/circularmachines/sharedinventory/internal/api"
	"github.com/circularmachines/sharedinventory/internal/api/handler"
	"github.com/circularmachines/sharedinventory/internal/inventory"
	"github.com/circularmachines/sharedinventory/internal/metrics"
	"github.com/circularmachines/sharedinventory/internal/monitor"
	"github.com/circularmachines/sharedinventory/internal/repository"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "serve",
		Short:       "Answer video mentions with model replies",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{daemonAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			logger.Info("starting bskybot",
				"version", Version,
				"build_time", BuildTime,
				"account", cfg.Bluesky.Username,
			)

			bot, err := newVideoBot(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to start video bot", "error", err)
				return err
			}
			defer bot.Close()

			mon := monitor.New(
				monitorConfig(cfg, filepath.Join(cfg.Storage.DataDir, "activity.jsonl")),
				bot.client,
				bot.client,
				bot.pipeline,
				bot.metrics,
				logger,
			)

			handlers := api.Handlers{
				Health:  handler.NewHealthHandler(bot.runs, cfg.Storage.VideoDir),
				Status:  handler.NewStatusHandler("video", mon, mon.Activity(), bot.processed, bot.runs, logger),
				Runs:    handler.NewRunsHandler(bot.runs, logger),
				Metrics: bot.metrics.Handler(),
			}
			return runDaemon(ctx, cfg, mon, handlers, logger)
		},
	}
}

func inventoryCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:         "inventory",
		Short:       "Run the SharedInventory membership bot",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{daemonAnnotation: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := opts.logger
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			store, err := inventory.NewStore(cfg.Inventory.Directory, cfg.Inventory.MembersFile, cfg.Inventory.InventoryFile)
			if err != nil {
				logger.Error("failed to open inventory store", "error", err)
				return err
			}
			replied, err := repository.NewFileProcessedSet(filepath.Join(cfg.Inventory.Directory, cfg.Inventory.RepliedFile))
			if err != nil {
				logger.Error("failed to open replied set", "error", err)
				return err
			}

			client := newBlueskyClient(cfg, logger)
			if err := client.Login(ctx); err != nil {
				logger.Error("bluesky login failed", "error", err)
				return err
			}

			m := metrics.New()
			responder := inventory.NewResponder(store, client, replied, logger)
			mon := monitor.New(
				monitorConfig(cfg, filepath.Join(cfg.Inventory.Directory, "activity.jsonl")),
				client,
				client,
				responder,
				m,
				logger,
			)

			logger.Info("starting SharedInventory bot",
				"version", Version,
				"account", cfg.Bluesky.Username,
				"directory", cfg.Inventory.Directory,
			)

			handlers := api.Handlers{
				Health:    handler.NewHealthHandler(nil, cfg.Inventory.Directory),
				Status:    handler.NewStatusHandler("inventory", mon, mon.Activity(), replied, nil, logger),
				Inventory: handler.NewInventoryHandler(store, logger),
				Metrics:   m.Handler(),
			}
			return runDaemon(ctx, cfg, mon, handlers, logger)
		},
	}
}
