package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/config"
	"github.com/Forgate-Labs/CRUD-QL-sub000/internal/core/logger"
)

// Version is the crudql release.
const Version = "0.1.0"

var configFile string

var rootCmd = &cobra.Command{
	Use:           "crudql",
	Short:         "crudql entity CRUD and query server",
	Long:          `crudql serves create, read, update and delete over registered entities with role based field masking and row filters.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().String("db-url", "", "database connection URL (sqlite://path or postgres://...)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig reads configuration with the command's flags on top.
func loadConfig(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configFile, cmd.Flags())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log.With(zap.String("env", cfg.App.Env)), nil
}
