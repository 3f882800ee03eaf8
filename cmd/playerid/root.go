// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Playerid Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/pickiss/playerid/internal/config"
	"github.com/pickiss/playerid/internal/logging"
	"github.com/pickiss/playerid/internal/xdg"
)

const serviceName = "playerid"

// rootOptions holds the flags shared by every subcommand.
type rootOptions struct {
	configFile string
	lookupEnv  func(string) (string, bool)
}

// NewRootCmd creates the root command for the playerid CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&rootOptions{})
}

func newRootCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playerid",
		Short: "playerid - player identity service for games",
		Long: `playerid issues anonymous player identities and links them to
Apple and Google Play Games accounts. It runs the identity backend and
ships a client for signing in, linking and switching accounts.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file path (default: XDG_CONFIG_HOME/playerid/config.yaml)")
	cmd.PersistentFlags().String("log-format", "json", "log format (json or text)")
	cmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn or error)")

	cmd.AddCommand(NewServeCmd(opts))
	cmd.AddCommand(NewMigrateCmd(opts))
	cmd.AddCommand(NewConfigCmd(opts))
	cmd.AddCommand(NewClientCmd(opts))

	return cmd
}

// loadConfig layers defaults, the config file, the environment and the
// flags set on cmd. Without --config the XDG config file is optional.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.Loader{
		Path:      o.configFile,
		Flags:     cmd.Flags(),
		LookupEnv: o.lookupEnv,
	}
	if loader.Path == "" {
		if path, err := xdg.ConfigFile(); err == nil {
			loader.Path = path
			loader.Optional = true
		}
	}
	return loader.Load()
}

// configPath returns --config or the XDG default.
func (o *rootOptions) configPath() (string, error) {
	if o.configFile != "" {
		return o.configFile, nil
	}
	return xdg.ConfigFile()
}

// setupLogging installs the default logger described by cfg.
func setupLogging(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   cfg.LogLevel(),
		Writer:  cmd.ErrOrStderr(),
	})
}
