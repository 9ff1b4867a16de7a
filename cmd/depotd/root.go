package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"bus-depot-backend/config"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:          "depotd",
	Short:        "Bus depot parking service",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (default $CONFIG_PATH or ./config/config.yaml)")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func loadConfig() (*config.Config, string, error) {
	path := cfgPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "./config/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config from %s: %w", path, err)
	}
	return cfg, path, nil
}
