// Package cli implements the homehub command line.
package cli

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"homehub/internal/config"
	"homehub/internal/logging"

	_ "homehub/internal/addons/all" // compiled-in add-ons
)

// rootOptions holds the persistent flags shared by every subcommand.
type rootOptions struct {
	cfgFile  string
	logLevel string
	envFile  string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "homehub",
		Short:         "homehub - protocol add-on host for a home-automation hub",
		Long:          "homehub hosts protocol add-ons (HomeKit, MQTT vendor extensions, Home Assistant) around one shared storage handle.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (defaults are used when empty)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(newRunCmd(opts))
	cmd.AddCommand(newAddOnsCmd(opts))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// load reads the environment file and the configuration and builds the
// process logger.
func (o *rootOptions) load() (*config.Config, *zap.Logger, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, nil, err
		}
	}

	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}
