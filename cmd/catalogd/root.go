package main

import (
	"io"

	"github.com/spf13/cobra"

	"geekcatalog/config"
	"geekcatalog/internal/logging"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	configPath string
	manager    *config.Manager
	settings   config.Settings
	logCloser  io.Closer
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "catalogd",
		Short:         "Geek catalog ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "catalog.yaml", "settings file (YAML)")
	flags.String("database.path", "", "sqlite database file")
	flags.String("log.level", "", "log level: debug, info, warn or error")
	flags.String("log.file", "", "rotating JSON log file")

	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		opts.manager = config.NewManager(opts.configPath)
		if err := opts.manager.BindFlags(cmd.Flags()); err != nil {
			return err
		}
		settings, err := opts.manager.Load()
		if err != nil {
			return err
		}
		opts.settings = settings
		_, opts.logCloser = logging.Setup(logging.Options{
			Level:      settings.Log.Level,
			File:       settings.Log.File,
			MaxSizeMB:  settings.Log.MaxSizeMB,
			MaxBackups: settings.Log.MaxBackups,
			MaxAgeDays: settings.Log.MaxAgeDays,
		})
		return nil
	}
	root.PersistentPostRunE = func(*cobra.Command, []string) error {
		if opts.logCloser != nil {
			return opts.logCloser.Close()
		}
		return nil
	}

	root.AddCommand(
		newServeCmd(opts),
		newIngestCmd(opts),
		newJobsCmd(opts),
		newCredentialsCmd(opts),
		newMigrateCmd(opts),
		newRefreshCmd(opts),
		newSearchCmd(opts),
	)
	return root
}
