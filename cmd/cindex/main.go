package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/cindex-mcp/internal/config"
	"github.com/dshills/cindex-mcp/internal/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// Flags shared by every command
var (
	configPath string
	dbPath     string
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "cindex",
	Short: "Incremental C/C++ source indexer with an MCP server",
	Long: `cindex keeps an index of the declarations and references in C/C++
projects up to date as files change, and answers symbol queries over the
Model Context Protocol.

  cindex serve                     # MCP server on stdio, watching indexed projects
  cindex index /path/to/project    # one-shot index and save
  cindex find /path/to/project Foo # query a saved index
  cindex status /path/to/project   # index state and problems`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.cindex/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "index database path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log every job at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")

	rootCmd.AddCommand(serveCmd, indexCmd, findCmd, statusCmd, versionCmd)
}

// loadConfig reads the configuration, applies flag overrides and installs
// the logger
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv(config.EnvConfig)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = config.ExpandHome(dbPath)
	}
	if verbose {
		cfg.Verbose = true
	}

	level := logger.ParseLevel(cfg.Log.Level)
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger.Init(logger.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
