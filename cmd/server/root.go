package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/circularmachines/sharedinventory/internal/config"
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
	logLevel   string

	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "bskybot",
		Short:         "Bluesky mention bot that answers videos and runs SharedInventory",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Daemons log to stdout; one-shot commands keep stdout for their output.
			logOut := cmd.ErrOrStderr()
			if cmd.Annotations[daemonAnnotation] == "true" {
				logOut = cmd.OutOrStdout()
			}
			return opts.init(logOut)
		},
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML config file")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the environment is read")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(
		serveCmd(opts),
		inventoryCmd(opts),
		processCmd(opts),
		checkMediaCmd(opts),
		downloadCmd(opts),
		analyzeCmd(opts),
		composeCmd(opts),
		feedCmd(opts),
		versionCmd(),
	)

	return root
}

// daemonAnnotation marks long-running commands.
const daemonAnnotation = "daemon"

// init builds the logger and loads the dotenv file.
func (o *rootOptions) init(logOut io.Writer) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", o.logLevel, err)
	}
	o.logger = slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(o.logger)

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}
	return nil
}

// load reads the configuration. Commands that talk to the account validate it.
func (o *rootOptions) load(validate bool) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if validate {
		cfg, err = config.Load(o.configPath)
	} else {
		cfg, err = config.Read(o.configPath)
	}
	if err != nil {
		o.logger.Error("failed to load config", "error", err)
		return nil, err
	}
	return cfg, nil
}

// printJSON writes v indented to w.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
