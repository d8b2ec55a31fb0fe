package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/dbgsync/internal/config"
	"github.com/dshills/dbgsync/internal/logflags"
)

type rootFlags struct {
	configPath string
	log        bool
	logOutput  string
	logLevel   string
	metrics    string
}

func newRootCommand() *cobra.Command {
	var flags rootFlags

	root := &cobra.Command{
		Use:           "dbgsync",
		Short:         "dbgsync keeps editors in sync with a debug adapter session.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "Path to a YAML or TOML configuration file.")
	root.PersistentFlags().BoolVar(&flags.log, "log", false, "Enable logging.")
	root.PersistentFlags().StringVar(&flags.logOutput, "log-output", "", "Comma separated list of layers that should log (service, binder, editor, sources, dap, config).")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "Log level, overrides the configured one.")
	root.PersistentFlags().StringVar(&flags.metrics, "metrics-addr", "", "Serve Prometheus metrics on this address.")

	root.AddCommand(newVersionCommand())
	root.AddCommand(newAttachCommand(&flags))
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "dbgsync %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}

// loadSettings loads the configuration and sets up logging from it. Command
// line log flags win over the file.
func loadSettings(flags *rootFlags) (*config.Settings, *config.Watcher, error) {
	var (
		settings *config.Settings
		watch    *config.Watcher
		err      error
	)
	if flags.configPath != "" {
		watch, err = config.Watch(flags.configPath, config.DefaultReloadDebounce)
		if err != nil {
			return nil, nil, err
		}
		settings = watch.Current()
	} else {
		settings, err = config.Load("")
		if err != nil {
			return nil, nil, err
		}
	}

	layers := settings.LogLayers
	if flags.logOutput != "" {
		layers = flags.logOutput
	}
	level := settings.LogLevel
	if flags.logLevel != "" {
		level = flags.logLevel
	}
	logging := flags.log || flags.logOutput != "" || settings.LogLayers != ""
	if err := logflags.Setup(logging, layers, level, os.Stderr); err != nil {
		if watch != nil {
			watch.Close()
		}
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return settings, watch, nil
}
