/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kentakayama/uptane-secondary/internal/config"
	"github.com/kentakayama/uptane-secondary/internal/logging"
	"github.com/kentakayama/uptane-secondary/internal/server"
	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

var (
	cfgFile  string
	logLevel string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:           "uptane-secondary",
	Short:         "Uptane secondary ECU update agent",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		setters := []logging.Setter{logging.NumericLevel(cfg.Logging.LogLevel)}
		if logLevel != "" {
			setters = append(setters, logging.Level(logLevel))
		}
		logger, err := logging.New(setters...)
		if err != nil {
			return err
		}
		cfg.Logger = logger
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		srv, err := server.New(ctx, cfg)
		if err != nil {
			return err
		}
		defer srv.Close()

		cfg.Logger.WithField("addr", srv.Addr().String()).Infof("uptane-secondary %s running", version)
		return srv.Serve(ctx)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	// no config is needed to print the version
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "path to the TOML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "loglevel", "", "override the configured log level (trace, debug, info, warn, error)")
	rootCmd.AddCommand(versionCmd)
}
